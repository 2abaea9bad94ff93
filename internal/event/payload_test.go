package event

import (
	"testing"
	"time"
)

func TestPayloadInt64(t *testing.T) {
	p, err := DecodePayload(`{"orderId":42,"userId":"7","big":9007199254740993,"bad":"x","flag":true}`)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	cases := []struct {
		key     string
		want    int64
		wantErr bool
	}{
		{key: "orderId", want: 42},
		{key: "userId", want: 7},
		{key: "big", want: 9007199254740993},
		{key: "bad", wantErr: true},
		{key: "missing", wantErr: true},
		{key: "flag", wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.key, func(t *testing.T) {
			got, err := p.Int64(tc.key)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %d", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Errorf("got %d, want %d", got, tc.want)
			}
		})
	}
}

func TestPayloadBoolAndString(t *testing.T) {
	p, err := DecodePayload(`{"a":true,"b":"true","c":1,"d":"no","tx":"tx123","n":12}`)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !p.Bool("a") || !p.Bool("b") || !p.Bool("c") {
		t.Errorf("expected a, b, c to be true")
	}
	if p.Bool("d") || p.Bool("missing") {
		t.Errorf("expected d and missing to be false")
	}
	if p.String("tx") != "tx123" || p.String("n") != "12" || p.String("missing") != "" {
		t.Errorf("unexpected string values: %q %q", p.String("tx"), p.String("n"))
	}
}

func TestDecodePayloadRejectsGarbage(t *testing.T) {
	if _, err := DecodePayload("not json"); err == nil {
		t.Fatal("expected error for non-JSON payload")
	}
	p, err := DecodePayload("")
	if err != nil || len(p) != 0 {
		t.Fatalf("empty payload should decode to empty map, got %v, %v", p, err)
	}
}

func TestRecordDue(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	later := now.Add(time.Minute)
	earlier := now.Add(-time.Minute)

	cases := []struct {
		name string
		rec  Record
		want bool
	}{
		{"pending without next run", Record{Status: StatusPending}, true},
		{"pending in past", Record{Status: StatusPending, NextRunAt: &earlier}, true},
		{"pending exactly now", Record{Status: StatusPending, NextRunAt: &now}, true},
		{"pending in future", Record{Status: StatusPending, NextRunAt: &later}, false},
		{"processing", Record{Status: StatusProcessing}, false},
		{"soft deleted", Record{Status: StatusPending, DeletedAt: &earlier}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.rec.Due(now); got != tc.want {
				t.Errorf("Due = %v, want %v", got, tc.want)
			}
		})
	}
}
