package utils

import (
	"math/rand"
)

const (
	letterBytes = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"
	hexBytes    = "0123456789abcdef"
)

// RandString 随机字符串, isPureNumber 为 true 时只包含数字
func RandString(n int, isPureNumber bool) string {
	alphabet := letterBytes
	if isPureNumber {
		alphabet = letterBytes[:10]
	}

	return randFrom(alphabet, n)
}

// RandHex 随机十六进制字符串
func RandHex(n int) string {
	return randFrom(hexBytes, n)
}

func randFrom(alphabet string, n int) string {
	if n <= 0 {
		return ""
	}

	output := make([]byte, n)
	for pos := range output {
		output[pos] = alphabet[rand.Intn(len(alphabet))]
	}

	return string(output)
}
