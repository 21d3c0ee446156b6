package database

import "testing"

func TestDatabaseFromURI(t *testing.T) {
	tests := []struct {
		uri  string
		want string
	}{
		{"mongodb://localhost:27017/whatsapp", "whatsapp"},
		{"mongodb://localhost:27017/inbox?retryWrites=true", "inbox"},
		{"mongodb+srv://user:pw@cluster0.example.net/prod?w=majority", "prod"},
		{"mongodb://localhost:27017", DefaultDatabase},
		{"mongodb://localhost:27017/", DefaultDatabase},
		{"mongodb://localhost:27017/?tls=true", DefaultDatabase},
	}

	for _, tt := range tests {
		t.Run(tt.uri, func(t *testing.T) {
			if got := DatabaseFromURI(tt.uri); got != tt.want {
				t.Errorf("DatabaseFromURI(%q) = %q, want %q", tt.uri, got, tt.want)
			}
		})
	}
}
