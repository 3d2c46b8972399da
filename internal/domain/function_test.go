package domain

import "testing"

func TestTruncateForLog_ShortBodyUnchanged(t *testing.T) {
	body := []byte(`{"ok":true}`)
	logged, size := TruncateForLog(body)
	if logged != string(body) {
		t.Fatalf("logged = %q, want unchanged", logged)
	}
	if size != int64(len(body)) {
		t.Fatalf("size = %d, want %d", size, len(body))
	}
}

func TestTruncateForLog_LongBodyTruncatedWithTrueSize(t *testing.T) {
	body := make([]byte, MaxLoggedBodyBytes+100)
	for i := range body {
		body[i] = 'a'
	}
	logged, size := TruncateForLog(body)
	if size != int64(len(body)) {
		t.Fatalf("size = %d, want true length %d", size, len(body))
	}
	if len(logged) != MaxLoggedBodyBytes+len(truncationMarker) {
		t.Fatalf("logged length = %d, want %d", len(logged), MaxLoggedBodyBytes+len(truncationMarker))
	}
	if logged[len(logged)-len(truncationMarker):] != truncationMarker {
		t.Fatalf("logged does not end with truncation marker: %q", logged[len(logged)-len(truncationMarker):])
	}
}
