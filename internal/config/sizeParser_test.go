package config

import (
	"reflect"
	"testing"

	"github.com/mitchellh/mapstructure"
)

func TestParseSize(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{in: "131072", want: 131072},
		{in: "128KiB", want: 131072},
		{in: "128kib", want: 131072},
		{in: "1MiB", want: 1 << 20},
		{in: "1GiB", want: 1 << 30},
		{in: "2K", want: 2048},
		{in: "3m", want: 3 << 20},
		{in: "1g", want: 1 << 30},
		{in: " 4KiB ", want: 4096},
		{in: "0", want: 0},
		{in: "", wantErr: true},
		{in: "KiB", wantErr: true},
		{in: "-1", wantErr: true},
		{in: "-1KiB", wantErr: true},
		{in: "twelve", wantErr: true},
		{in: "1.5MiB", wantErr: true},
	}
	for _, tc := range tests {
		got, err := ParseSize(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("ParseSize(%q) = %d, want error", tc.in, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseSize(%q): %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("ParseSize(%q) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

// TestStringToByteSize covers the DecodeHook behavior for various inputs.
func TestStringToByteSize(t *testing.T) {
	tests := []struct {
		name      string
		toType    reflect.Type
		input     interface{}
		expectVal interface{}
		expectErr bool
	}{
		{
			name:      "plain bytes",
			toType:    reflect.TypeOf(ByteSize(0)),
			input:     "4096",
			expectVal: ByteSize(4096),
		},
		{
			name:      "iec suffix",
			toType:    reflect.TypeOf(ByteSize(0)),
			input:     "64KiB",
			expectVal: ByteSize(64 << 10),
		},
		{
			name:      "garbage",
			toType:    reflect.TypeOf(ByteSize(0)),
			input:     "banana",
			expectErr: true,
		},
		{
			name:      "not this type",
			toType:    reflect.TypeOf(0),
			input:     "4096",
			expectVal: "4096",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fromVal := reflect.ValueOf(tt.input)
			toVal := reflect.New(tt.toType).Elem()
			got, err := mapstructure.DecodeHookExec(StringToByteSize(), fromVal, toVal)
			if tt.expectErr {
				if err == nil {
					t.Fatalf("expected error, got nil (value=%v)", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !reflect.DeepEqual(got, tt.expectVal) {
				t.Errorf("expected %v (%T), got %v (%T)", tt.expectVal, tt.expectVal, got, got)
			}
		})
	}
}
