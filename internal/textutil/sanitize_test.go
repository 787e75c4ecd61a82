package textutil

import "testing"

func TestSafeFileName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Autódromo José Carlos Pace", "Autodromo_Jose_Carlos_Pace"},
		{"Circuit de Spa-Francorchamps", "Circuit_de_Spa_Francorchamps"},
		{"Circuit Gilles-Villeneuve (Montréal)", "Circuit_Gilles_Villeneuve_Montreal"},
		{"  Suzuka  International - Racing Course ", "Suzuka_International_Racing_Course"},
		{"Nürburgring", "Nurburgring"},
		{"上海国际赛车场", ""},
	}
	for _, tc := range tests {
		if got := SafeFileName(tc.in); got != tc.want {
			t.Errorf("SafeFileName(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
