// Package validation содержит функции валидации входных данных.
package validation

import "strings"

// NormalizeCouponCode приводит код купона к каноническому виду:
// обрезает пробелы и переводит в верхний регистр.
func NormalizeCouponCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// IsValidCouponCode проверяет, что код купона состоит из 4–32 латинских
// букв и цифр. Код предполагается уже нормализованным.
func IsValidCouponCode(code string) bool {
	if len(code) < 4 || len(code) > 32 {
		return false
	}

	for _, ch := range code {
		switch {
		case ch >= '0' && ch <= '9':
		case ch >= 'A' && ch <= 'Z':
		case ch >= 'a' && ch <= 'z':
		default:
			return false
		}
	}

	return true
}
