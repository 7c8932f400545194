package clrmetadata

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"

	"github.com/openshift/test-queue-runner/pkg/clrmetadata/clrmetadatatest"
)

func TestReadMVID(t *testing.T) {
	mvid := uuid.MustParse("0f8fad5b-d9cb-469f-a165-70867728950e")
	dir := t.TempDir()

	managed := filepath.Join(dir, "Managed.dll")
	if err := clrmetadatatest.WriteManagedImage(managed, mvid); err != nil {
		t.Fatal(err)
	}
	native := filepath.Join(dir, "native.dll")
	if err := os.WriteFile(native, clrmetadatatest.NativeImage(), 0644); err != nil {
		t.Fatal(err)
	}
	garbage := filepath.Join(dir, "garbage.dll")
	if err := os.WriteFile(garbage, []byte("not a portable executable at all, just text padding it out"), 0644); err != nil {
		t.Fatal(err)
	}

	actual, err := ReadMVID(managed)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if actual != mvid {
		t.Errorf("expected %s, got %s", mvid, actual)
	}

	if _, err := ReadMVID(native); !errors.Is(err, ErrNotManaged) {
		t.Errorf("expected ErrNotManaged for a native image, got %v", err)
	}
	if _, err := ReadMVID(garbage); err == nil {
		t.Error("expected an error for a file that is not an image")
	}
	if _, err := ReadMVID(filepath.Join(dir, "missing.dll")); err == nil {
		t.Error("expected an error for a missing file")
	}
}

func TestReadMVIDDistinguishesBuilds(t *testing.T) {
	first, second := uuid.New(), uuid.New()
	a, err := readMVID(bytes.NewReader(clrmetadatatest.ManagedImage(first)))
	if err != nil {
		t.Fatal(err)
	}
	b, err := readMVID(bytes.NewReader(clrmetadatatest.ManagedImage(second)))
	if err != nil {
		t.Fatal(err)
	}
	if a != first || b != second {
		t.Errorf("expected %s and %s, got %s and %s", first, second, a, b)
	}
}

func TestGUIDLayout(t *testing.T) {
	u := uuid.MustParse("00112233-4455-6677-8899-aabbccddeeff")
	raw := clrmetadatatest.GUIDBytes(u)
	expected := []byte{0x33, 0x22, 0x11, 0x00, 0x55, 0x44, 0x77, 0x66, 0x88, 0x99, 0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff}
	if !bytes.Equal(raw, expected) {
		t.Fatalf("unexpected on-disk layout % x", raw)
	}
	back, err := guidToUUID(raw)
	if err != nil {
		t.Fatal(err)
	}
	if back != u {
		t.Errorf("expected %s, got %s", u, back)
	}
}
