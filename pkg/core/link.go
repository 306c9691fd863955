package core

import (
	"fmt"

	"selfvault/pkg/types"

	"github.com/fxamacker/cbor/v2"
)

// Link is a content address inside a DataMap.
// On the wire it is CBOR tag 42 wrapping 0x00 followed by the raw digest.
type Link struct {
	Hash types.Hash
}

const (
	linkTagNumber = 42
)

func NewLink(hash types.Hash) Link {
	return Link{Hash: hash}
}

func (l Link) IsZero() bool { return l.Hash.IsZero() }

// MarshalCBOR encodes the link as tag 42 with the identity multibase prefix.
func (l Link) MarshalCBOR() ([]byte, error) {
	hashBytes := l.Hash.Bytes()
	if hashBytes == nil && !l.Hash.IsZero() {
		return nil, fmt.Errorf("invalid hash format in link: %q", l.Hash)
	}

	cidBytes := append([]byte{0x00}, hashBytes...)

	return em.Marshal(cbor.Tag{
		Number:  linkTagNumber,
		Content: cidBytes,
	})
}

func (l *Link) UnmarshalCBOR(data []byte) error {
	var tag cbor.Tag
	if err := dm.Unmarshal(data, &tag); err != nil {
		return err
	}

	if tag.Number != linkTagNumber {
		return fmt.Errorf("expected tag 42 for Link, got %d", tag.Number)
	}

	bytes, ok := tag.Content.([]byte)
	if !ok {
		return fmt.Errorf("link content must be byte string")
	}

	if len(bytes) < 1 {
		return fmt.Errorf("invalid link: empty content")
	}
	if bytes[0] != 0x00 {
		return fmt.Errorf("invalid link: missing 0x00 multibase prefix")
	}

	l.Hash = types.HashFromBytes(bytes[1:])
	return nil
}
