// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package protocol

import "fmt"

const hexDigits = "0123456789ABCDEF"

func needsEscape(character byte) bool {
	return character <= ' ' || character >= 0x7f || character == '%' || character == '='
}

// AppendEscaped appends src to dst with every byte that could break
// framing written as %XX.
func AppendEscaped(dst, src []byte) []byte {
	for _, character := range src {
		if needsEscape(character) {
			dst = append(dst, '%', hexDigits[character>>4], hexDigits[character&0x0f])
			continue
		}
		dst = append(dst, character)
	}
	return dst
}

// AppendUnescaped appends the decoded form of src to dst.
func AppendUnescaped(dst, src []byte) ([]byte, error) {
	for index := 0; index < len(src); index++ {
		character := src[index]
		if character != '%' {
			dst = append(dst, character)
			continue
		}
		if index+2 >= len(src) {
			return dst, fmt.Errorf("truncated escape at offset %d", index)
		}
		high, highOK := fromHex(src[index+1])
		low, lowOK := fromHex(src[index+2])
		if !highOK || !lowOK {
			return dst, fmt.Errorf("invalid escape %q at offset %d", src[index:index+3], index)
		}
		dst = append(dst, high<<4|low)
		index += 2
	}
	return dst, nil
}

func fromHex(character byte) (byte, bool) {
	switch {
	case character >= '0' && character <= '9':
		return character - '0', true
	case character >= 'a' && character <= 'f':
		return character - 'a' + 10, true
	case character >= 'A' && character <= 'F':
		return character - 'A' + 10, true
	}
	return 0, false
}
