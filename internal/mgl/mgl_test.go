package mgl

import "testing"

func TestSanitize(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		keepPunc bool
		want     string
	}{
		{
			name:     "strips quotes and dashes",
			input:    `"Иргэний үнэмлэх" - баримт бичиг`,
			keepPunc: true,
			want:     "Иргэний үнэмлэх баримт бичиг",
		},
		{
			name:     "strips superscript and latin",
			input:    "Талбай 25 м² (square meters)",
			keepPunc: true,
			want:     "Талбай 25 м",
		},
		{
			name:     "keeps sentence terminators",
			input:    "Тийм ээ. Болно уу?",
			keepPunc: true,
			want:     "Тийм ээ. Болно уу?",
		},
		{
			name:     "drops terminators when disabled",
			input:    "Тийм ээ. Болно уу?",
			keepPunc: false,
			want:     "Тийм ээ Болно уу",
		},
		{
			name:     "exclamation always removed",
			input:    "Анхаар! Дууслаа.",
			keepPunc: true,
			want:     "Анхаар Дууслаа.",
		},
		{
			name:     "collapses whitespace",
			input:    "нэг   хоёр\n\nгурав",
			keepPunc: true,
			want:     "нэг хоёр гурав",
		},
		{
			name:     "empty input",
			input:    "",
			keepPunc: true,
			want:     "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Sanitize(tt.input, tt.keepPunc); got != tt.want {
				t.Errorf("Sanitize(%q, %v) = %q, want %q", tt.input, tt.keepPunc, got, tt.want)
			}
		})
	}
}

func TestNumberToWords(t *testing.T) {
	tests := []struct {
		n    int64
		want string
	}{
		{0, "тэг"},
		{5, "тав"},
		{10, "арав"},
		{19, "арван ес"},
		{25, "хорин тав"},
		{90, "ер"},
		{100, "нэг зуу"},
		{307, "гурав зуу долоо"},
		{1000, "нэг мянга"},
		{2025, "хоёр мянга хорин тав"},
		{1_000_000, "нэг сая"},
		{1_500_000_000, "нэг тэрбум тав зуу сая"},
	}

	for _, tt := range tests {
		if got := NumberToWords(tt.n); got != tt.want {
			t.Errorf("NumberToWords(%d) = %q, want %q", tt.n, got, tt.want)
		}
	}
}

func TestReplaceNumbers(t *testing.T) {
	got := ReplaceNumbers("2025 онд 3 удаа ирсэн")
	want := "хоёр мянга хорин тав онд гурав удаа ирсэн"
	if got != want {
		t.Errorf("ReplaceNumbers = %q, want %q", got, want)
	}
}

func TestForSpeech(t *testing.T) {
	got := ForSpeech(`Хариулт: "25-р зүйл" дагуу болно.`)
	want := "Хариулт хорин тав р зүйл дагуу болно."
	if got != want {
		t.Errorf("ForSpeech = %q, want %q", got, want)
	}
}
