package rqlite

import (
	"encoding/base64"
	"encoding/json"
	"reflect"
	"testing"
	"time"
)

func TestAdaptPrimitives(t *testing.T) {
	registry := NewRegistry()

	cases := []struct {
		in       any
		expected any
	}{
		{nil, nil},
		{"text", "text"},
		{true, int64(1)},
		{false, int64(0)},
		{int(7), int(7)},
		{int64(7), int64(7)},
		{3.14, 3.14},
	}
	for _, tc := range cases {
		got, err := registry.Adapt(tc.in)
		if err != nil {
			t.Fatalf("Adapt(%v) returned error: %v", tc.in, err)
		}
		if got != tc.expected {
			t.Errorf("Adapt(%v) = %v, expected %v", tc.in, got, tc.expected)
		}
	}
}

func TestAdaptBytes(t *testing.T) {
	registry := NewRegistry()
	got, err := registry.Adapt([]byte{0, 1, 255})
	if err != nil {
		t.Fatalf("Adapt returned error: %v", err)
	}
	ints, ok := got.([]int64)
	if !ok {
		t.Fatalf("Expected []int64 framing, got %T", got)
	}
	if !reflect.DeepEqual(ints, []int64{0, 1, 255}) {
		t.Errorf("Expected [0 1 255], got %v", ints)
	}
}

func TestAdaptDateAndTime(t *testing.T) {
	registry := NewRegistry()

	got, err := registry.Adapt(NewDate(2004, time.February, 14))
	if err != nil {
		t.Fatalf("Adapt returned error: %v", err)
	}
	if got != "2004-02-14" {
		t.Errorf("Expected 2004-02-14, got %v", got)
	}

	ts := time.Date(2014, time.March, 1, 9, 30, 15, 0, time.UTC)
	got, err = registry.Adapt(ts)
	if err != nil {
		t.Fatalf("Adapt returned error: %v", err)
	}
	if got != "2014-03-01 09:30:15" {
		t.Errorf("Expected 2014-03-01 09:30:15, got %v", got)
	}

	ts = time.Date(2014, time.March, 1, 9, 30, 15, 123456000, time.UTC)
	got, err = registry.Adapt(ts)
	if err != nil {
		t.Fatalf("Adapt returned error: %v", err)
	}
	if got != "2014-03-01 09:30:15.123456" {
		t.Errorf("Expected fractional seconds, got %v", got)
	}
}

func TestAdaptUnsupported(t *testing.T) {
	registry := NewRegistry()
	_, err := registry.Adapt(struct{ X int }{1})
	if !IsInterfaceError(err) {
		t.Fatalf("Expected interface error for unsupported type, got %v", err)
	}
}

type wireWrapped struct {
	inner string
}

func (w wireWrapped) ToWireValue() (any, bool) {
	return w.inner, true
}

func TestAdaptWireValuer(t *testing.T) {
	registry := NewRegistry()
	got, err := registry.Adapt(wireWrapped{inner: "payload"})
	if err != nil {
		t.Fatalf("Adapt returned error: %v", err)
	}
	if got != "payload" {
		t.Errorf("Expected payload, got %v", got)
	}
}

func TestRegisteredAdapterOverridesBuiltin(t *testing.T) {
	registry := NewRegistry()
	registry.RegisterAdapter(reflect.TypeOf(true), func(value any) (any, error) {
		if value.(bool) {
			return "yes", nil
		}
		return "no", nil
	})
	got, err := registry.Adapt(true)
	if err != nil {
		t.Fatalf("Adapt returned error: %v", err)
	}
	if got != "yes" {
		t.Errorf("Expected registered adapter to win, got %v", got)
	}

	registry.UnregisterAdapter(reflect.TypeOf(true))
	got, err = registry.Adapt(true)
	if err != nil {
		t.Fatalf("Adapt returned error: %v", err)
	}
	if got != int64(1) {
		t.Errorf("Expected builtin handling after unregister, got %v", got)
	}
}

func TestRegisteredAdapterForStrings(t *testing.T) {
	registry := NewRegistry()
	registry.RegisterAdapter(reflect.TypeOf(""), func(value any) (any, error) {
		return "adapted:" + value.(string), nil
	})

	got, err := registry.Adapt("raw")
	if err != nil {
		t.Fatalf("Adapt returned error: %v", err)
	}
	if got != "adapted:raw" {
		t.Errorf("Expected the string adapter to apply, got %v", got)
	}

	registry.UnregisterAdapter(reflect.TypeOf(""))
	got, err = registry.Adapt("raw")
	if err != nil {
		t.Fatalf("Adapt returned error: %v", err)
	}
	if got != "raw" {
		t.Errorf("Expected pass-through after unregister, got %v", got)
	}
}

func TestDateRoundTrip(t *testing.T) {
	registry := NewRegistry()
	original := NewDate(2004, time.February, 14)

	wire, err := registry.Adapt(original)
	if err != nil {
		t.Fatalf("Adapt returned error: %v", err)
	}
	converter := registry.converterFor("d", "date", true, false)
	if converter == nil {
		t.Fatal("Expected a converter for declared type date")
	}
	back, err := converter(wire)
	if err != nil {
		t.Fatalf("Converter returned error: %v", err)
	}
	if back != original {
		t.Errorf("Round trip changed the date: %v != %v", back, original)
	}
}

func TestTimestampConverter(t *testing.T) {
	registry := NewRegistry()
	converter := registry.converterFor("ts", "timestamp", true, false)
	if converter == nil {
		t.Fatal("Expected a converter for declared type timestamp")
	}
	for _, wire := range []string{
		"2014-03-01T09:30:15Z",
		"2014-03-01 09:30:15",
	} {
		got, err := converter(wire)
		if err != nil {
			t.Fatalf("Converter returned error for %q: %v", wire, err)
		}
		ts, ok := got.(time.Time)
		if !ok {
			t.Fatalf("Expected time.Time, got %T", got)
		}
		expected := time.Date(2014, time.March, 1, 9, 30, 15, 0, time.UTC)
		if !ts.Equal(expected) {
			t.Errorf("Converter(%q) = %v, expected %v", wire, ts, expected)
		}
	}

	got, err := converter("2014-03-01 09:30:15.123")
	if err != nil {
		t.Fatalf("Converter returned error: %v", err)
	}
	if got.(time.Time).Nanosecond() != 123000000 {
		t.Errorf("Fractional seconds not padded: %v", got)
	}
}

func TestDefaultConvertersWithoutDetectFlags(t *testing.T) {
	registry := NewRegistry()

	converter := registry.converterFor("n", "integer", false, false)
	if converter == nil {
		t.Fatal("Expected default converter for integer")
	}
	got, err := converter(json.Number("1099511627776"))
	if err != nil {
		t.Fatalf("Converter returned error: %v", err)
	}
	if got != int64(1)<<40 {
		t.Errorf("Expected 2^40 preserved exactly, got %v", got)
	}

	// DATETIME default conversion is light reformatting only.
	converter = registry.converterFor("ts", "datetime", false, false)
	got, err = converter("2014-03-01T09:30:15Z")
	if err != nil {
		t.Fatalf("Converter returned error: %v", err)
	}
	if got != "2014-03-01 09:30:15" {
		t.Errorf("Expected reformatted string, got %v", got)
	}
}

func TestNameInferenceForLiteralColumns(t *testing.T) {
	registry := NewRegistry()

	converter := registry.converterFor("3", "", false, false)
	if converter == nil {
		t.Fatal("Expected inferred integer converter for column named 3")
	}
	got, err := converter(json.Number("3"))
	if err != nil {
		t.Fatalf("Converter returned error: %v", err)
	}
	if got != int64(3) {
		t.Errorf("Expected int64 3, got %v (%T)", got, got)
	}

	converter = registry.converterFor("3.14", "", false, false)
	got, err = converter(json.Number("3.14"))
	if err != nil {
		t.Fatalf("Converter returned error: %v", err)
	}
	if got != 3.14 {
		t.Errorf("Expected float64 3.14, got %v (%T)", got, got)
	}
}

func TestColumnNameHintWinsOverDeclaredType(t *testing.T) {
	registry := NewRegistry()
	registry.RegisterConverter("FOO", func(value any) (any, error) {
		return "from-hint", nil
	})
	registry.RegisterConverter("BAR", func(value any) (any, error) {
		return "from-decltype", nil
	})

	converter := registry.converterFor("x [FOO]", "bar", true, true)
	if converter == nil {
		t.Fatal("Expected a converter")
	}
	// FOO is not a native wire type, so its input arrives base64-framed.
	wire := base64.StdEncoding.EncodeToString([]byte("payload"))
	got, err := converter(wire)
	if err != nil {
		t.Fatalf("Converter returned error: %v", err)
	}
	if got != "from-hint" {
		t.Errorf("Expected the name-hint converter to win, got %v", got)
	}
}

func TestTextAffinityPassThrough(t *testing.T) {
	registry := NewRegistry()
	if registry.converterFor("name", "text", true, true) != nil {
		t.Error("Expected no converter for text affinity")
	}
	if registry.converterFor("name", "varchar(100)", false, false) != nil {
		t.Error("Expected no converter for varchar")
	}
	if registry.converterFor("expr", "", false, false) != nil {
		t.Error("Expected no converter without type information")
	}
}

func TestConditionalBase64Fallback(t *testing.T) {
	registry := NewRegistry()
	converter := registry.converterFor("b", "blob", false, false)
	if converter == nil {
		t.Fatal("Expected the blob default converter")
	}

	encoded := base64.StdEncoding.EncodeToString([]byte{1, 2, 3})
	got, err := converter(encoded)
	if err != nil {
		t.Fatalf("Converter returned error: %v", err)
	}
	if !reflect.DeepEqual(got, []byte{1, 2, 3}) {
		t.Errorf("Expected decoded bytes, got %v", got)
	}

	// A value that is not valid base64 passes through untouched.
	got, err = conditionalBase64Decode("not!base64!")
	if err != nil {
		t.Fatalf("conditionalBase64Decode returned error: %v", err)
	}
	if got != "not!base64!" {
		t.Errorf("Expected pass-through, got %v", got)
	}
}

func TestTruncatedDeclaredType(t *testing.T) {
	registry := NewRegistry()
	registry.RegisterConverter("NUMBER", func(value any) (any, error) {
		return "number", nil
	})
	converter := registry.converterFor("n", "NUMBER(10)", true, false)
	if converter == nil {
		t.Fatal("Expected converter for truncated NUMBER(10)")
	}
	got, err := converter("123")
	if err != nil {
		t.Fatalf("Converter returned error: %v", err)
	}
	if got != "number" {
		t.Errorf("Expected registered NUMBER converter, got %v", got)
	}
}

func TestStripColumnName(t *testing.T) {
	if got := stripColumnName("x [date]", true); got != "x" {
		t.Errorf("Expected x, got %q", got)
	}
	if got := stripColumnName("x [date]", false); got != "x [date]" {
		t.Errorf("Expected untouched name, got %q", got)
	}
	if got := stripColumnName("plain", true); got != "plain" {
		t.Errorf("Expected plain, got %q", got)
	}
}
