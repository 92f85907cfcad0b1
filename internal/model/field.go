// Package model はドメインモデルを定義する。
package model

import "sort"

// Field は開示対象となる個人情報フィールドを表す。
// 閉じた列挙として定義し、未知のフィールド名は全ての境界で拒否する。
type Field string

const (
	// FieldName は氏名。
	FieldName Field = "name"
	// FieldKana は氏名カナ。
	FieldKana Field = "kana"
	// FieldEmail はメールアドレス。
	FieldEmail Field = "email"
	// FieldPhone は電話番号。
	FieldPhone Field = "phone"
	// FieldPostalCode は郵便番号。
	FieldPostalCode Field = "postal_code"
	// FieldAddress は住所。
	FieldAddress Field = "address"
	// FieldBirthDate は生年月日。
	FieldBirthDate Field = "birth_date"
	// FieldGender は性別。
	FieldGender Field = "gender"
)

// knownFields は有効なフィールド名の集合。
var knownFields = map[Field]struct{}{
	FieldName:       {},
	FieldKana:       {},
	FieldEmail:      {},
	FieldPhone:      {},
	FieldPostalCode: {},
	FieldAddress:    {},
	FieldBirthDate:  {},
	FieldGender:     {},
}

// IsKnownField はフィールド名が列挙に含まれるかを検証する。
func IsKnownField(f Field) bool {
	_, ok := knownFields[f]
	return ok
}

// ValidateFields は全てのフィールド名が列挙に含まれるかを検証する。
// 未知のフィールド名が含まれる場合は最初の1つを返す。
func ValidateFields(fields []Field) (Field, bool) {
	for _, f := range fields {
		if !IsKnownField(f) {
			return f, false
		}
	}
	return "", true
}

// FieldsSubset はsubの全要素がsuperに含まれるかを検証する。
// 含まれない場合は最初の超過フィールドを返す。
func FieldsSubset(sub, super []Field) (Field, bool) {
	set := make(map[Field]struct{}, len(super))
	for _, f := range super {
		set[f] = struct{}{}
	}
	for _, f := range sub {
		if _, ok := set[f]; !ok {
			return f, false
		}
	}
	return "", true
}

// SortedFields はフィールド集合を重複除去して辞書順に整列したコピーを返す。
// セッションの同一性判定キーの生成に使用する。
func SortedFields(fields []Field) []Field {
	set := make(map[Field]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	out := make([]Field, 0, len(set))
	for f := range set {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// FieldStrings はフィールドスライスを文字列スライスに変換する。
func FieldStrings(fields []Field) []string {
	out := make([]string, len(fields))
	for i, f := range fields {
		out[i] = string(f)
	}
	return out
}

// FieldsFromStrings は文字列スライスをフィールドスライスに変換する。
// バリデーションは行わない（境界ではValidateFieldsを併用すること）。
func FieldsFromStrings(ss []string) []Field {
	out := make([]Field, len(ss))
	for i, s := range ss {
		out[i] = Field(s)
	}
	return out
}
