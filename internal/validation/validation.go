// Package validation содержит функции валидации входных данных.
package validation

import (
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/mmeshcher/groupbuy/internal/apperrors"
	"github.com/mmeshcher/groupbuy/internal/model"
)

// Допустимые размеры группы.
const (
	MinGroupSize = 2
	MaxGroupSize = 50
)

// GroupSize проверяет, что 2 ≤ minMembers ≤ maxMembers ≤ 50.
func GroupSize(minMembers, maxMembers int) error {
	if minMembers < MinGroupSize {
		return fmt.Errorf("%w: minMembers must be at least %d", apperrors.ErrInvalidInput, MinGroupSize)
	}
	if maxMembers > MaxGroupSize {
		return fmt.Errorf("%w: maxMembers must be at most %d", apperrors.ErrInvalidInput, MaxGroupSize)
	}
	if minMembers > maxMembers {
		return fmt.Errorf("%w: minMembers exceeds maxMembers", apperrors.ErrInvalidInput)
	}
	return nil
}

// IsValidCoordinates проверяет диапазоны широты и долготы.
func IsValidCoordinates(c model.Coordinates) bool {
	return c.Lat >= -90 && c.Lat <= 90 && c.Lon >= -180 && c.Lon <= 180
}

// IsValidPhone проверяет номер телефона: необязательный "+" и от 10 до 15 цифр.
func IsValidPhone(phone string) bool {
	digits := strings.TrimPrefix(phone, "+")
	if len(digits) < 10 || len(digits) > 15 {
		return false
	}

	for _, ch := range digits {
		if !unicode.IsDigit(ch) {
			return false
		}
	}

	return true
}

// Required возвращает ошибку, если хотя бы одно из полей пустое.
func Required(fields map[string]string) error {
	var missing []string
	for name, v := range fields {
		if strings.TrimSpace(v) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	sort.Strings(missing)
	return fmt.Errorf("%w: required %s", apperrors.ErrInvalidInput, strings.Join(missing, ", "))
}
