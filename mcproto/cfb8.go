package mcproto

import (
	"crypto/aes"
	"crypto/cipher"
)

// cfb8 is the 8-bit cipher feedback mode the protocol uses once encryption is enabled
type cfb8 struct {
	block   cipher.Block
	iv      []byte
	tmp     []byte
	decrypt bool
}

func newCFB8(block cipher.Block, iv []byte, decrypt bool) cipher.Stream {
	register := make([]byte, block.BlockSize())
	copy(register, iv)
	return &cfb8{
		block:   block,
		iv:      register,
		tmp:     make([]byte, block.BlockSize()),
		decrypt: decrypt,
	}
}

func (x *cfb8) XORKeyStream(dst, src []byte) {
	last := len(x.iv) - 1
	for i := range src {
		in := src[i]
		x.block.Encrypt(x.tmp, x.iv)
		out := in ^ x.tmp[0]
		copy(x.iv, x.iv[1:])
		if x.decrypt {
			x.iv[last] = in
		} else {
			x.iv[last] = out
		}
		dst[i] = out
	}
}

// NewEncryptionStreams creates the encrypting and decrypting streams for a connection where
// the shared secret is both key and initial vector.
func NewEncryptionStreams(sharedSecret []byte) (encrypt cipher.Stream, decrypt cipher.Stream, err error) {
	block, err := aes.NewCipher(sharedSecret)
	if err != nil {
		return nil, nil, err
	}
	return newCFB8(block, sharedSecret, false), newCFB8(block, sharedSecret, true), nil
}
