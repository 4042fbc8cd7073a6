package utils_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/taskhubdev/taskhub/internal/utils"
)

func TestUserCursorRoundtrip(t *testing.T) {
	createdAt := time.Now().UTC().Truncate(time.Microsecond)
	id := uuid.NewString()

	encoded, err := utils.EncodeUserCursor(createdAt, id)

	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	decoded, err := utils.DecodeUserCursor(encoded)

	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	if !decoded.CreatedAt.Equal(createdAt) || decoded.ID != id {
		t.Fatalf("roundtrip mismatch: %+v", decoded)
	}
}

func TestDecodeUserCursorRejectsGarbage(t *testing.T) {
	cases := []string{
		"",
		"!!!not-base64",
		"bm90IGpzb24", // valid base64, not json
	}

	for _, raw := range cases {
		if _, err := utils.DecodeUserCursor(raw); err == nil {
			t.Fatalf("decode(%q) succeeded, want error", raw)
		}
	}
}

func TestIsUUID(t *testing.T) {
	if !utils.IsUUID(uuid.NewString()) {
		t.Fatal("real uuid rejected")
	}

	for _, raw := range []string{"", "42", "not-a-uuid"} {
		if utils.IsUUID(raw) {
			t.Fatalf("IsUUID(%q) = true", raw)
		}
	}
}
