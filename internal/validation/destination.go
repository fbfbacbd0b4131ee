// Package validation содержит функции валидации входных данных.
package validation

import "unicode"

// IsValidDestinationID проверяет идентификатор счёта для вывода средств:
// строка из одних цифр длиной не меньше minLen.
func IsValidDestinationID(id string, minLen int) bool {
	if len(id) < minLen {
		return false
	}

	for _, ch := range id {
		if !unicode.IsDigit(ch) {
			return false
		}
	}

	return true
}
