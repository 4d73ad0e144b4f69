package tabular

import (
	"errors"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"

	"clinicsync/internal/logging"
	"clinicsync/pkg/domain"
)

func mustSchema(t *testing.T, ds domain.Dataset) Schema {
	t.Helper()
	s, err := SchemaFor(ds)
	if err != nil {
		t.Fatalf("schema: %v", err)
	}
	return s
}

func TestParsePatientsWithExtrasAndDroppedRows(t *testing.T) {
	input := "\xEF\xBB\xBFHasta_No;TC_Kimlik_No;Hasta_Adı;Hasta_Soyadı;Telefon;Sigorta\n" +
		"1;12345678901;Ayşe;Yılmaz;0532 123 45 67;SGK\n" +
		";11111111111;Eksik;Anahtar;;\n" +
		"\n" +
		"2;;Mehmet;Öz;;Özel\n"
	p := New(logging.Nop())
	res, err := p.Parse([]byte(input), mustSchema(t, domain.DatasetPatients), Options{RevisionHash: "abc"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if res.Encoding != EncodingUTF8SIG {
		t.Fatalf("encoding %s", res.Encoding)
	}
	if res.Total != 3 || res.Dropped != 1 || len(res.Records) != 2 || len(res.Errors) != 1 {
		t.Fatalf("unexpected counts %+v", res)
	}
	if res.Errors[0].Row != 3 {
		t.Fatalf("dropped row number %d", res.Errors[0].Row)
	}
	first := res.Records[0]
	if first.Key != "1" || first.Field(ColFirstName) != "Ayşe" || first.RevisionHash != "abc" {
		t.Fatalf("unexpected record %+v", first)
	}
	if first.Extras["Sigorta"] != "SGK" {
		t.Fatalf("extras not kept: %+v", first.Extras)
	}
	if _, ok := first.Fields["Sigorta"]; ok {
		t.Fatalf("unknown column leaked into fields")
	}
	if first.Source != domain.SourceBulutKlinik {
		t.Fatalf("source %s", first.Source)
	}
}

func TestDecodeFallbackChain(t *testing.T) {
	cases := []struct {
		name string
		data []byte
		want string
		text string
	}{
		{"utf8 with bom", []byte("\xEF\xBB\xBFçocuk"), EncodingUTF8SIG, "çocuk"},
		{"plain utf8", []byte("Şikayeti"), EncodingUTF8, "Şikayeti"},
		{"latin1", []byte{'A', 'l', 'i', ';', 0xC7, 'e', 'l', 'i', 'k'}, EncodingLatin1, "Ali;Çelik"},
		{"cp1254 euro sign rejects latin1", []byte{'1', '0', 0x80}, EncodingCP1254, "10€"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			text, enc, err := Decode(tc.data, nil)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if enc != tc.want || text != tc.text {
				t.Fatalf("got %q via %s, want %q via %s", text, enc, tc.text, tc.want)
			}
		})
	}
}

func TestDecodeExplicitOrder(t *testing.T) {
	// 0xFE is ş in the Turkish charsets and þ in latin-1.
	text, enc, err := Decode([]byte{'k', 'a', 0xFE}, []string{EncodingISO88599})
	if err != nil || enc != EncodingISO88599 || text != "kaş" {
		t.Fatalf("got %q %s %v", text, enc, err)
	}
	if _, _, err := Decode([]byte{0xFF, 0xFE}, []string{EncodingUTF8}); err == nil {
		t.Fatalf("expected failure with utf-8 only")
	}
}

func TestParseRequiresHeaderAndPrimaryKey(t *testing.T) {
	p := New(logging.Nop())
	schema := mustSchema(t, domain.DatasetPayments)
	if _, err := p.Parse([]byte(""), schema, Options{}); !errors.Is(err, ErrNoHeader) {
		t.Fatalf("expected ErrNoHeader, got %v", err)
	}
	if _, err := p.Parse([]byte("Hasta_No;Tutar\n1;2\n"), schema, Options{}); err == nil || !strings.Contains(err.Error(), "Protokol_No") {
		t.Fatalf("expected missing primary key column error, got %v", err)
	}
}

func TestParseShortRowsAndQuotedDelimiters(t *testing.T) {
	p := New(logging.Nop())
	input := "Protokol No;Hasta Kimlik Numarası;Bulgular\n" +
		"P-1;12345678901;\"3500 g; 52 cm\"\n" +
		"P-2\n"
	res, err := p.Parse([]byte(input), mustSchema(t, domain.DatasetMedicalInfo), Options{})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(res.Records) != 2 {
		t.Fatalf("records %d", len(res.Records))
	}
	if res.Records[0].Field(ColFindings) != "3500 g; 52 cm" {
		t.Fatalf("quoted field %q", res.Records[0].Field(ColFindings))
	}
	if res.Records[1].Field(ColMedNationalID) != "" {
		t.Fatalf("short row should yield empty fields")
	}
}

func TestReadCSVReportsMalformedLines(t *testing.T) {
	r := newCSVReader("Hasta_No;Hasta_Adı\n1;Ali\n2;\"Ay\"se\n3;Can\n")
	r.LazyQuotes = false
	rows, skipped, err := New(logging.Nop()).readCSV(r, domain.DatasetPatients)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(rows) != 3 || rows[2][0] != "3" {
		t.Fatalf("unexpected rows %v", rows)
	}
	if len(skipped) != 1 || skipped[0].Row != 3 || skipped[0].Dataset != domain.DatasetPatients {
		t.Fatalf("unexpected skipped lines %+v", skipped)
	}
}

func TestParseXLSX(t *testing.T) {
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	rows := [][]interface{}{
		{"Appointment ID", "Appointment Date", "Customer Name", "Customer Phone"},
		{"A1", "15.08.2024", "Zeynep Kaya", "5321234567"},
		{"", "16.08.2024", "No Key", ""},
	}
	for i, row := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			t.Fatalf("set row: %v", err)
		}
	}
	buf, err := f.WriteToBuffer()
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = f.Close()

	res, err := New(logging.Nop()).Parse(buf.Bytes(), mustSchema(t, domain.DatasetSetmoreAppointments), Options{})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if res.Encoding != EncodingXLSX || len(res.Records) != 1 || res.Dropped != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
	if got := res.Records[0].Field(ColSetmoreCustomer); got != "Zeynep Kaya" {
		t.Fatalf("customer %q", got)
	}
	if res.Records[0].Source != domain.SourceSetmore {
		t.Fatalf("source %s", res.Records[0].Source)
	}
}

func TestSchemaForEveryDataset(t *testing.T) {
	for _, ds := range domain.AllDatasets() {
		s, err := SchemaFor(ds)
		if err != nil {
			t.Fatalf("%s: %v", ds, err)
		}
		if !s.known(s.PrimaryKey) {
			t.Fatalf("%s: primary key not among columns", ds)
		}
	}
	if _, err := SchemaFor("unknown"); err == nil {
		t.Fatalf("expected error for unknown dataset")
	}
}
