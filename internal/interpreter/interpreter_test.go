package interpreter

import "testing"

func TestCleanReply(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "Ваш сон говорит о переменах.", "Ваш сон говорит о переменах."},
		{"empty", "", ""},
		{"sentence markers", "<s>Толкование.</s>", "Толкование."},
		{"markers any case", "<S>Толкование.</S>", "Толкование."},
		{"observation", "<OBSERVATION>шум</OBSERVATION> Толкование.", "шум Толкование."},
		{"bracket tags", "[INST]Толкование[/INST]", "Толкование"},
		{"xml leftovers", "<think>хм</think>Толкование.", "хмТолкование."},
		{"surrounding space", "  \nТолкование.\n ", "Толкование."},
		{"only markup", "<s>[INST][/INST]</s>", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := CleanReply(tc.in); got != tc.want {
				t.Fatalf("CleanReply(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}
