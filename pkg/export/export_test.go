package export

import (
	"bytes"
	"errors"
	"testing"

	"github.com/credguard/credguard/pkg/vault"
)

func testKey() []byte {
	return bytes.Repeat([]byte{0x42}, 32)
}

func testRecords() []vault.CredentialRecord {
	return []vault.CredentialRecord{
		{
			RecordID:        "abc123",
			Owner:           "owner-1",
			Service:         "example.com",
			Username:        "alice",
			CurrentPassword: "pw-1",
		},
		{
			RecordID:        "def456",
			Owner:           "owner-1",
			Service:         "bank.example",
			Username:        "alice",
			CurrentPassword: "pw-2",
			PendingPassword: "pw-3",
		},
	}
}

func TestWriteReadRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	if err := Write(&buf, testRecords(), testKey()); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	header, records, err := Read(&buf, testKey())
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if header.Version != FormatVersion {
		t.Errorf("header version = %d", header.Version)
	}
	if header.RecordCount != 2 {
		t.Errorf("record count = %d, want 2", header.RecordCount)
	}
	if len(records) != 2 {
		t.Fatalf("Read() = %d records", len(records))
	}
	if records[0].CurrentPassword != "pw-1" || records[1].PendingPassword != "pw-3" {
		t.Error("records did not survive the round trip")
	}
}

func TestEmptyExport(t *testing.T) {
	var buf bytes.Buffer
	if err := Write(&buf, nil, testKey()); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	header, records, err := Read(&buf, testKey())
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if header.RecordCount != 0 || len(records) != 0 {
		t.Errorf("empty export = %d records, count %d", len(records), header.RecordCount)
	}
}

func TestWrongKeyFails(t *testing.T) {
	var buf bytes.Buffer
	if err := Write(&buf, testRecords(), testKey()); err != nil {
		t.Fatal(err)
	}

	other := bytes.Repeat([]byte{0x24}, 32)
	if _, _, err := Read(&buf, other); !errors.Is(err, ErrMACMismatch) {
		t.Errorf("Read() with wrong key error = %v, want ErrMACMismatch", err)
	}
}

func TestInvalidMagic(t *testing.T) {
	data := []byte("NOT_AN_EXPORT_FILE_AT_ALL")
	if _, _, err := Read(bytes.NewReader(data), testKey()); !errors.Is(err, ErrInvalidMagic) {
		t.Errorf("Read() error = %v, want ErrInvalidMagic", err)
	}
}

func TestTamperedPayloadFailsClosed(t *testing.T) {
	var buf bytes.Buffer
	if err := Write(&buf, testRecords(), testKey()); err != nil {
		t.Fatal(err)
	}

	data := buf.Bytes()
	// Flip one bit in the middle of the sealed payload.
	data[len(data)-40] ^= 0x01
	if _, _, err := Read(bytes.NewReader(data), testKey()); !errors.Is(err, ErrMACMismatch) {
		t.Errorf("Read() of tampered payload error = %v, want ErrMACMismatch", err)
	}
}

func TestTamperedHeaderFailsClosed(t *testing.T) {
	var buf bytes.Buffer
	if err := Write(&buf, testRecords(), testKey()); err != nil {
		t.Fatal(err)
	}

	data := buf.Bytes()
	// Flip a bit inside the JSON header, just past the magic and length.
	data[14] ^= 0x01
	if _, _, err := Read(bytes.NewReader(data), testKey()); !errors.Is(err, ErrMACMismatch) {
		t.Errorf("Read() of tampered header error = %v, want ErrMACMismatch", err)
	}
}

func TestTruncatedFile(t *testing.T) {
	var buf bytes.Buffer
	if err := Write(&buf, testRecords(), testKey()); err != nil {
		t.Fatal(err)
	}

	data := buf.Bytes()[:buf.Len()/2]
	if _, _, err := Read(bytes.NewReader(data), testKey()); err == nil {
		t.Error("Read() accepted a truncated file")
	}
}
