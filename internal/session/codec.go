package session

import (
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("session: cbor encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("session: cbor decoder initialization failed: " + err.Error())
	}
}

func encode(s Session) ([]byte, error) {
	return encMode.Marshal(s)
}

func decode(data []byte) (Session, error) {
	var s Session
	err := decMode.Unmarshal(data, &s)
	return s, err
}
