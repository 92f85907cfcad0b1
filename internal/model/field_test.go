package model

import (
	"reflect"
	"testing"
)

func TestIsKnownField(t *testing.T) {
	tests := []struct {
		field Field
		want  bool
	}{
		{FieldName, true},
		{FieldKana, true},
		{FieldEmail, true},
		{FieldPhone, true},
		{FieldPostalCode, true},
		{FieldAddress, true},
		{FieldBirthDate, true},
		{FieldGender, true},
		{Field("ssn"), false},
		{Field("NAME"), false},
		{Field(""), false},
	}

	for _, tt := range tests {
		if got := IsKnownField(tt.field); got != tt.want {
			t.Errorf("IsKnownField(%q) = %v, want %v", tt.field, got, tt.want)
		}
	}
}

func TestValidateFields(t *testing.T) {
	if f, ok := ValidateFields([]Field{FieldName, FieldEmail}); !ok {
		t.Errorf("ValidateFields returned invalid field %q for known fields", f)
	}

	f, ok := ValidateFields([]Field{FieldName, Field("credit_card")})
	if ok {
		t.Fatal("ValidateFields accepted unknown field")
	}
	if f != Field("credit_card") {
		t.Errorf("invalid field = %q, want %q", f, "credit_card")
	}
}

func TestFieldsSubset(t *testing.T) {
	granted := []Field{FieldName, FieldEmail, FieldAddress}

	if f, ok := FieldsSubset([]Field{FieldName, FieldAddress}, granted); !ok {
		t.Errorf("FieldsSubset rejected valid subset at field %q", f)
	}

	f, ok := FieldsSubset([]Field{FieldName, FieldPhone}, granted)
	if ok {
		t.Fatal("FieldsSubset accepted field outside granted set")
	}
	if f != FieldPhone {
		t.Errorf("violating field = %q, want %q", f, FieldPhone)
	}

	// 空集合は常に部分集合
	if _, ok := FieldsSubset(nil, granted); !ok {
		t.Error("FieldsSubset rejected empty set")
	}
}

func TestSortedFields(t *testing.T) {
	got := SortedFields([]Field{FieldPhone, FieldAddress, FieldName})
	want := []Field{FieldAddress, FieldName, FieldPhone}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("SortedFields = %v, want %v", got, want)
	}

	// 元のスライスを破壊しない
	original := []Field{FieldPhone, FieldName}
	SortedFields(original)
	if original[0] != FieldPhone {
		t.Error("SortedFields mutated input slice")
	}
}

func TestFieldsFromStrings(t *testing.T) {
	got := FieldsFromStrings([]string{"name", "email"})
	want := []Field{FieldName, FieldEmail}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("FieldsFromStrings = %v, want %v", got, want)
	}
}
