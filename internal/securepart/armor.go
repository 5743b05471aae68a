package securepart

import (
	"bytes"
	"io"

	"github.com/ProtonMail/go-crypto/openpgp/armor"
)

// armorOrRaw returns a reader over the packet stream, transparently
// stripping ASCII armor when present.
func armorOrRaw(content []byte) (io.Reader, error) {
	block, err := armor.Decode(bytes.NewReader(content))
	if err == nil {
		return block.Body, nil
	}
	return bytes.NewReader(content), nil
}
