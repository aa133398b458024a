package gateway

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

var ErrBadAmount = errors.New("金额格式错误")

// CentsToDecimal 美分转网关要求的十进制美元串
func CentsToDecimal(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d", sign, cents/100, cents%100)
}

// ParseUSDToCents 解析网关回调里的十进制美元金额（如 "500.00000000"）为美分
func ParseUSDToCents(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, ErrBadAmount
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrBadAmount, s)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("%w: %q", ErrBadAmount, s)
	}
	return int64(math.Round(f * 100)), nil
}
