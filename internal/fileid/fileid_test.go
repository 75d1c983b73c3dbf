package fileid

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"
)

func TestImageID(t *testing.T) {
	id1 := ImageID("/photos/cat.jpg")
	id2 := ImageID("/photos/cat.jpg")
	if id1 != id2 {
		t.Errorf("same path should give same ID: %q vs %q", id1, id2)
	}
	if len(id1) != Length {
		t.Errorf("ID length = %d, want %d", len(id1), Length)
	}
	sum := sha256.Sum256([]byte("/photos/cat.jpg"))
	if want := hex.EncodeToString(sum[:])[:Length]; id1 != want {
		t.Errorf("ID = %q, want sha256 prefix %q", id1, want)
	}
}

func TestImageID_differentPaths(t *testing.T) {
	if ImageID("/photos/cat.jpg") == ImageID("/photos/dog.jpg") {
		t.Error("different paths should give different IDs")
	}
}

func TestImageID_normalized(t *testing.T) {
	id1 := ImageID("/photos/cat.jpg")
	id2 := ImageID("/photos/./cat.jpg")
	id3 := ImageID("/photos/2024/../cat.jpg")
	if id1 != id2 || id1 != id3 {
		t.Errorf("equivalent paths should match: %q %q %q", id1, id2, id3)
	}
}
