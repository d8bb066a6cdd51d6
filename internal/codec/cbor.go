package codec

import (
	"fmt"

	"github.com/dmitrijs2005/coachkeeper/internal/common"
	"github.com/fxamacker/cbor/v2"
)

var (
	cborEnc cbor.EncMode
	cborDec cbor.DecMode
)

func init() {
	var err error
	cborEnc, err = cbor.EncOptions{Time: cbor.TimeRFC3339Nano}.EncMode()
	if err != nil {
		panic(err)
	}
	cborDec, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic(err)
	}
}

// MarshalCBOR encodes d compactly for the cache's value column.
func MarshalCBOR(d Document) ([]byte, error) {
	b, err := cborEnc.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("%w: cbor encode: %v", common.ErrCodec, err)
	}
	return b, nil
}

func UnmarshalCBOR(b []byte) (Document, error) {
	var d Document
	if err := cborDec.Unmarshal(b, &d); err != nil {
		return Document{}, fmt.Errorf("%w: cbor decode: %v", common.ErrCodec, err)
	}
	return d, nil
}
