package rooms

import (
	"crypto/rand"
	"fmt"
	"io"

	"github.com/google/uuid"
)

// IDProvider issues store-assigned message identifiers.
type IDProvider interface {
	NewID() (string, error)
}

// CodeGenerator issues candidate room codes.
type CodeGenerator interface {
	NewCode() (RoomCode, error)
}

type uuidProvider struct{}

// NewUUIDProvider constructs an IDProvider that issues UUIDv7 identifiers.
func NewUUIDProvider() IDProvider {
	return &uuidProvider{}
}

func (p *uuidProvider) NewID() (string, error) {
	value, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return value.String(), nil
}

// Bytes at or above this bound are discarded so every alphabet character is equally likely.
const unbiasedByteLimit = 256 - 256%len(CodeAlphabet)

type randomCodeGenerator struct {
	source io.Reader
}

// NewRandomCodeGenerator constructs a CodeGenerator backed by crypto/rand.
func NewRandomCodeGenerator() CodeGenerator {
	return &randomCodeGenerator{source: rand.Reader}
}

func (g *randomCodeGenerator) NewCode() (RoomCode, error) {
	code := make([]byte, 0, CodeLength)
	chunk := make([]byte, CodeLength*2)
	for len(code) < CodeLength {
		if _, err := io.ReadFull(g.source, chunk); err != nil {
			return "", fmt.Errorf("read random bytes: %w", err)
		}
		for _, value := range chunk {
			if int(value) >= unbiasedByteLimit {
				continue
			}
			code = append(code, CodeAlphabet[int(value)%len(CodeAlphabet)])
			if len(code) == CodeLength {
				break
			}
		}
	}
	return RoomCode(code), nil
}
