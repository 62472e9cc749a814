package templates

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestRendererRender(t *testing.T) {
	r := Renderer{}
	out, err := r.Render("greet", "Hello {{.Name}}", map[string]string{"Name": "Patient"})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if out != "Hello Patient" {
		t.Fatalf("unexpected output %q", out)
	}
	if _, err := r.Render("bad", "Hello {{.Missing}}", map[string]string{"Name": "x"}); err == nil {
		t.Fatalf("expected error for missing key")
	}
	if _, err := r.Render("empty", "", nil); err == nil {
		t.Fatalf("expected error for empty template")
	}
}

func TestRendererAcceptsBarePlaceholders(t *testing.T) {
	ctx := CollectionContext("Maria", decimal.RequireFromString("150.5"), time.Date(2025, 3, 7, 0, 0, 0, 0, time.UTC))
	out, err := Renderer{}.Render("sms", "Ola, {{ nome }}. Sua parcela de {{ valor }} vence em {{vencimento}}.", ctx)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	want := "Ola, Maria. Sua parcela de R$ 150.50 vence em 07/03/2025."
	if out != want {
		t.Fatalf("got %q want %q", out, want)
	}
}

func TestRendererKeepsKeywords(t *testing.T) {
	out, err := Renderer{}.Render("kw", "{{ if .nome }}{{ nome }}{{ else }}-{{ end }}", map[string]string{"nome": "Ana"})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if out != "Ana" {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestFormatAmount(t *testing.T) {
	if got := FormatAmount(decimal.RequireFromString("1234.567")); got != "R$ 1234.57" {
		t.Fatalf("unexpected amount %q", got)
	}
}
