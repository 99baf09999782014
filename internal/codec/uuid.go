package codec

import "github.com/google/uuid"

func uuidFromBytes(b []byte) (uuid.UUID, error) {
	return uuid.FromBytes(b)
}
