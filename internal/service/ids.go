package service

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"

	"github.com/minio/highwayhash"
)

// fingerprintKey is the fixed HighwayHash key for document fingerprints.
// Changing it changes every content-derived record ID.
var fingerprintKey = []byte("pdfrag-document-fingerprint-key!")

// IDScheme selects how record identifiers are derived.
type IDScheme string

const (
	// IDContent derives IDs from the namespace, the document bytes and the
	// chunk index, so re-ingesting a document overwrites its own records only.
	IDContent IDScheme = "content"
	// IDSequential numbers records doc_0, doc_1 ... per ingestion. A second
	// document in the same namespace overwrites the first one's records.
	IDSequential IDScheme = "sequential"
)

// ParseIDScheme validates a configured scheme name. Empty selects IDContent.
func ParseIDScheme(s string) (IDScheme, error) {
	switch IDScheme(s) {
	case "":
		return IDContent, nil
	case IDContent, IDSequential:
		return IDScheme(s), nil
	}
	return "", fmt.Errorf("unknown id scheme %q", s)
}

// DocumentKey is a short stable fingerprint of a document's bytes.
func DocumentKey(data []byte) string {
	return fmt.Sprintf("%016x", highwayhash.Sum64(data, fingerprintKey))
}

// RecordID returns the identifier of chunk index of a document.
func RecordID(scheme IDScheme, namespace, docKey string, index int) string {
	if scheme == IDSequential {
		return "doc_" + strconv.Itoa(index)
	}
	h := sha256.New()
	h.Write([]byte(namespace))
	h.Write([]byte{0})
	h.Write([]byte(docKey))
	h.Write([]byte{0})
	h.Write([]byte(strconv.Itoa(index)))
	return hex.EncodeToString(h.Sum(nil))[:32]
}
