package auth

import "testing"

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("нууц үг 123")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if hash == "нууц үг 123" {
		t.Fatal("hash equals plaintext")
	}

	if !CheckPassword(hash, "нууц үг 123") {
		t.Error("correct password rejected")
	}
	if CheckPassword(hash, "буруу нууц үг") {
		t.Error("wrong password accepted")
	}
	if CheckPassword("not-a-hash", "нууц үг 123") {
		t.Error("garbage hash accepted")
	}
}
