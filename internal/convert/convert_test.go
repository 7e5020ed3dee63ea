package convert

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestUnavailableConverter(t *testing.T) {
	var c Converter = Unavailable{}
	if c.Available() {
		t.Fatal("Unavailable must report Available() == false")
	}
	_, err := c.Convert(context.Background(), "in.pptx", t.TempDir())
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
}

func TestNewLibreOfficeDefaults(t *testing.T) {
	lo := NewLibreOffice("", 0)
	if lo.binary != "soffice" {
		t.Errorf("binary = %q, want soffice", lo.binary)
	}
	if lo.timeout != DefaultTimeout {
		t.Errorf("timeout = %s, want %s", lo.timeout, DefaultTimeout)
	}
}

func TestLibreOfficeUnavailableBinary(t *testing.T) {
	lo := NewLibreOffice("definitely-not-a-real-binary-name", time.Second)
	if lo.Available() {
		t.Fatal("nonexistent binary reported available")
	}

	_, err := lo.Convert(context.Background(), "in.pptx", t.TempDir())
	if err == nil {
		t.Fatal("Convert with missing binary should fail")
	}
}

func TestSelectFallsBackToUnavailable(t *testing.T) {
	c := Select("definitely-not-a-real-binary-name", time.Second)
	if c.Available() {
		t.Fatal("Select should return an unavailable converter")
	}
	if _, ok := c.(Unavailable); !ok {
		t.Fatalf("Select returned %T, want Unavailable", c)
	}
}
