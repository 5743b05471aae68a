// Package securepart classifies MIME parts that carry S/MIME or PGP content
// and confirms the classification by attempting a structural parse with
// go.mozilla.org/pkcs7 or ProtonMail/go-crypto, never decrypting or
// verifying trust.
package securepart

import (
	"strings"

	"github.com/ProtonMail/go-crypto/openpgp/packet"
	"go.mozilla.org/pkcs7"

	"github.com/kestrelmail/mailcore/internal/mime"
)

// Kind enumerates the secure-part variants the detector recognizes.
type Kind string

const (
	KindNone            Kind = ""
	KindSMIMESigned     Kind = "smimeSigned"
	KindSMIMEEncrypted  Kind = "smimeEncrypted"
	KindPGPSigned       Kind = "pgpSigned"
	KindPGPEncrypted    Kind = "pgpEncrypted"
	KindPGPKeys         Kind = "pgpKeys"
)

// canonicalFilenames supplies a default name when a part carries none.
var canonicalFilenames = map[Kind]string{
	KindSMIMESigned:    "smime.p7s",
	KindSMIMEEncrypted: "smime.p7m",
	KindPGPSigned:      "signature.asc",
	KindPGPEncrypted:   "encrypted.asc",
	KindPGPKeys:        "public_key.asc",
}

// mediaTypeKinds maps a normalized (no x- prefix) media type to its Kind.
var mediaTypeKinds = map[string]Kind{
	"application/pkcs7-signature": KindSMIMESigned,
	"application/pkcs7-mime":      KindSMIMEEncrypted, // refined by smime-type param by caller
	"application/pgp-signature":   KindPGPSigned,
	"application/pgp-encrypted":   KindPGPEncrypted,
	"application/pgp-keys":        KindPGPKeys,
}

// Part describes one detected secure part.
type Part struct {
	PartID             string
	Kind               Kind
	Filename           string
	StructurallyValid  bool // true once a PKCS#7/OpenPGP parse confirmed the envelope
	DetectionDetail    string
}

// Detection is the aggregate result over every part of a message.
type Detection struct {
	Parts            []Part
	IsFullyEncrypted bool
	IsFullySigned    bool
}

// ClassifyMediaType normalizes a declared media type (stripping a leading
// "x-" vendor segment on the subtype) and returns the matching Kind, or
// KindNone if the part isn't a recognized secure-part media type.
func ClassifyMediaType(mediaType, smimeTypeParam string) Kind {
	mt := strings.ToLower(strings.TrimSpace(mediaType))
	mt = stripXPrefix(mt)

	kind, ok := mediaTypeKinds[mt]
	if !ok {
		return KindNone
	}

	if kind == KindSMIMEEncrypted {
		switch strings.ToLower(strings.TrimSpace(smimeTypeParam)) {
		case "signed-data":
			return KindSMIMESigned
		case "enveloped-data", "":
			return KindSMIMEEncrypted
		}
	}

	return kind
}

// stripXPrefix turns "application/x-pkcs7-mime" into "application/pkcs7-mime".
func stripXPrefix(mediaType string) string {
	slash := strings.IndexByte(mediaType, '/')
	if slash < 0 {
		return mediaType
	}
	typ, sub := mediaType[:slash], mediaType[slash+1:]
	sub = strings.TrimPrefix(sub, "x-")
	return typ + "/" + sub
}

func isEncryptedVariant(k Kind) bool {
	return k == KindSMIMEEncrypted || k == KindPGPEncrypted
}

func isSignedVariant(k Kind) bool {
	return k == KindSMIMESigned || k == KindPGPSigned
}

// Detect walks parsed MIME parts, classifies secure ones by media type,
// confirms the classification structurally where a library is available,
// and derives isFullyEncrypted/isFullySigned.
func Detect(parts []mime.MimePart) Detection {
	var det Detection

	for _, p := range parts {
		kind := ClassifyMediaType(p.MediaType, "")
		if kind == KindNone {
			continue
		}

		filename := p.FilenameNormalized
		if filename == "" {
			filename = canonicalFilenames[kind]
		}

		sp := Part{
			PartID:   p.PartID,
			Kind:     kind,
			Filename: filename,
		}

		switch {
		case kind == KindSMIMESigned || kind == KindSMIMEEncrypted:
			sp.StructurallyValid, sp.DetectionDetail = confirmPKCS7(p.Content)
		case kind == KindPGPSigned || kind == KindPGPEncrypted || kind == KindPGPKeys:
			sp.StructurallyValid, sp.DetectionDetail = confirmOpenPGP(p.Content)
		}

		det.Parts = append(det.Parts, sp)
	}

	encryptedCount := 0
	for _, p := range det.Parts {
		if isEncryptedVariant(p.Kind) {
			encryptedCount++
		}
		if isSignedVariant(p.Kind) {
			det.IsFullySigned = true
		}
	}
	det.IsFullyEncrypted = len(det.Parts) == 1 && encryptedCount == 1

	return det
}

// confirmPKCS7 attempts a structural PKCS#7 parse, never touching trust or
// decrypting the enveloped content.
func confirmPKCS7(content []byte) (bool, string) {
	if len(content) == 0 {
		return false, "empty part"
	}
	p7, err := pkcs7.Parse(content)
	if err != nil {
		return false, "pkcs7 parse failed: " + err.Error()
	}
	if len(p7.Certificates) > 0 {
		return true, "pkcs7 envelope parsed, certificates present"
	}
	return true, "pkcs7 envelope parsed"
}

// confirmOpenPGP walks the raw OpenPGP packet stream (armored or binary)
// and confirms it contains at least one packet of the expected family,
// without attempting to decrypt or check a signature.
func confirmOpenPGP(content []byte) (bool, string) {
	if len(content) == 0 {
		return false, "empty part"
	}

	r, err := armorOrRaw(content)
	if err != nil {
		return false, "armor decode failed: " + err.Error()
	}

	pr := packet.NewReader(r)
	seen := 0
	for {
		pkt, err := pr.Next()
		if err != nil {
			break
		}
		seen++
		switch pkt.(type) {
		case *packet.Signature, *packet.SignatureV3:
			return true, "openpgp signature packet present"
		case *packet.EncryptedKey, *packet.SymmetricallyEncrypted:
			return true, "openpgp encrypted-data packet present"
		case *packet.PublicKey, *packet.PrivateKey:
			return true, "openpgp key packet present"
		}
		if seen > 32 {
			break // defensive bound; a well-formed part won't need this many
		}
	}
	if seen > 0 {
		return true, "openpgp packet stream parsed"
	}
	return false, "no recognizable openpgp packets"
}
