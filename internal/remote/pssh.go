package remote

import (
	"bytes"
	"encoding/base64"
	"encoding/hex"
	"fmt"

	gomp4 "github.com/abema/go-mp4"
	"github.com/google/uuid"
)

// Well-known DRM system IDs, lowercase UUID form.
const (
	WidevineSystemID  = "edef8ba9-79d6-4ace-a3c8-27dcd51d21ed"
	PlayReadySystemID = "9a04f079-9840-4286-ab92-e65be0885f95"
)

// PSSH is the parsed protection data of one track.
type PSSH struct {
	// SystemID is the DRM system UUID, lowercase.
	SystemID string

	// KIDs are the key IDs as lowercase hex, present in version-1 boxes.
	KIDs []string

	// Data is the system-specific payload.
	Data []byte

	// Raw is the complete box as received.
	Raw []byte
}

// System returns the DRM system name for known system IDs.
func (p *PSSH) System() string {
	switch p.SystemID {
	case WidevineSystemID:
		return "widevine"
	case PlayReadySystemID:
		return "playready"
	default:
		return p.SystemID
	}
}

// ParsePSSH decodes a base64 PSSH box as carried in manifests and track
// protection descriptors.
func ParsePSSH(encoded string) (*PSSH, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		raw, err = base64.RawStdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("protection data is not base64: %w", err)
		}
	}

	var parsed *PSSH
	_, err = gomp4.ReadBoxStructure(bytes.NewReader(raw), func(h *gomp4.ReadHandle) (interface{}, error) {
		if h.BoxInfo.Type != gomp4.BoxTypePssh() {
			return nil, nil
		}
		box, _, err := h.ReadPayload()
		if err != nil {
			return nil, err
		}
		pssh, ok := box.(*gomp4.Pssh)
		if !ok {
			return nil, fmt.Errorf("unexpected pssh payload type %T", box)
		}

		out := &PSSH{
			SystemID: uuid.UUID(pssh.SystemID).String(),
			Data:     pssh.Data,
			Raw:      raw,
		}
		for _, kid := range pssh.KIDs {
			out.KIDs = append(out.KIDs, hex.EncodeToString(kid.KID[:]))
		}
		parsed = out
		return nil, nil
	})
	if err != nil {
		return nil, fmt.Errorf("parsing pssh box: %w", err)
	}
	if parsed == nil {
		return nil, fmt.Errorf("no pssh box in protection data")
	}
	return parsed, nil
}
