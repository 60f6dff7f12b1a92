package filter

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"

	"github.com/yourorg/diagflow/internal/config"
	"github.com/yourorg/diagflow/internal/uds"
	"github.com/yourorg/diagflow/pkg/types"
)

// SanitizeConfig is an alias of config.SanitizeConfig.
type SanitizeConfig = config.SanitizeConfig

// Sanitize redacts the values of the configured DIDs in read responses and write requests,
// and in metadata lines keyed by the same DID. The byte length of each payload is kept.
func Sanitize(msgs []types.TraceMessage, cfg SanitizeConfig) []types.TraceMessage {
	dids := toDIDSet(cfg.DIDs)
	replacement := replacementByte(cfg.Replacement)
	out := make([]types.TraceMessage, len(msgs))
	for i, m := range msgs {
		out[i] = m
		if len(dids) == 0 {
			continue
		}
		if m.IsMetadata() {
			if did, ok := metaDID(m.MetaKey); ok {
				if _, hit := dids[did]; hit {
					out[i].MetaValue = strings.Repeat("*", len(m.MetaValue))
				}
			}
			continue
		}
		out[i].Payload = sanitizePayload(m.Bytes(), m.Payload, dids, replacement)
	}
	return out
}

func sanitizePayload(b []byte, payload string, dids map[uint16]struct{}, replacement byte) string {
	if len(b) < 4 {
		return payload
	}
	switch b[0] {
	case uds.PositiveResponseID(uds.SIDReadDataByIdentifier), uds.SIDWriteDataByIdentifier:
	default:
		return payload
	}
	did := binary.BigEndian.Uint16(b[1:3])
	if _, ok := dids[did]; !ok {
		return payload
	}
	redacted := append([]byte(nil), b...)
	for i := 3; i < len(redacted); i++ {
		redacted[i] = replacement
	}
	return fmt.Sprintf("%X", redacted)
}

func toDIDSet(items []string) map[uint16]struct{} {
	set := make(map[uint16]struct{}, len(items))
	for _, v := range items {
		if did, ok := parseDID(v); ok {
			set[did] = struct{}{}
		}
	}
	return set
}

func parseDID(s string) (uint16, bool) {
	s = types.NormalizeHex(s)
	if s == "" || len(s) > 4 {
		return 0, false
	}
	did, err := strconv.ParseUint(s, 16, 16)
	if err != nil {
		return 0, false
	}
	return uint16(did), true
}

// metaDID maps metadata keys such as "vin" or "F190" onto a DID.
func metaDID(key string) (uint16, bool) {
	if strings.EqualFold(strings.TrimSpace(key), "vin") {
		return 0xF190, true
	}
	return parseDID(key)
}

func replacementByte(s string) byte {
	s = types.NormalizeHex(s)
	b, err := strconv.ParseUint(s, 16, 8)
	if err != nil {
		return 0x00
	}
	return byte(b)
}
