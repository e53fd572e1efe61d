// Package apperrors содержит таксономию ошибок сервиса совместных закупок.
//
// Ошибки оборачиваются через fmt.Errorf("%w: ...") и распознаются errors.Is,
// транспортный слой сопоставляет их с HTTP-статусами.
package apperrors

import "errors"

var (
	// ErrNotFound возвращается, если группа, заказ, предложение, покупатель или поставщик не найдены.
	ErrNotFound = errors.New("not found")
	// ErrInvalidState возвращается, если статус сущности запрещает операцию.
	ErrInvalidState = errors.New("invalid state")
	// ErrInsufficientMembers возвращается при подтверждении группы с числом участников меньше минимума.
	ErrInsufficientMembers = errors.New("insufficient members")
	// ErrFull возвращается при вступлении в заполненную группу.
	ErrFull = errors.New("group is full")
	// ErrDeadlinePassed возвращается, если срок вступления или действия предложения истёк.
	ErrDeadlinePassed = errors.New("deadline passed")
	// ErrDuplicateMembership возвращается при повторном вступлении в группу.
	ErrDuplicateMembership = errors.New("already a member")
	// ErrDuplicateBid возвращается при повторном предложении поставщика по той же цели.
	ErrDuplicateBid = errors.New("bid already placed")
	// ErrInvalidAmount возвращается для неположительных сумм и сумм сверх задолженности или лимита.
	ErrInvalidAmount = errors.New("invalid amount")
	// ErrInvalidInput возвращается для некорректных входных данных: размеры группы, координаты, телефон.
	ErrInvalidInput = errors.New("invalid input")
	// ErrForbidden возвращается, если субъект не владеет сущностью.
	ErrForbidden = errors.New("forbidden")
	// ErrDuplicatePhone возвращается при регистрации с уже занятым номером телефона.
	ErrDuplicatePhone = errors.New("phone already registered")
	// ErrInvalidCredentials возвращается при неверном телефоне или пароле.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrUnavailable возвращается при непредвиденных ошибках хранилища.
	ErrUnavailable = errors.New("storage unavailable")
)

// IsDomain сообщает, относится ли ошибка к доменной таксономии.
// Всё остальное сервис считает сбоем хранилища.
func IsDomain(err error) bool {
	for _, target := range []error{
		ErrNotFound, ErrInvalidState, ErrInsufficientMembers, ErrFull, ErrDeadlinePassed,
		ErrDuplicateMembership, ErrDuplicateBid, ErrInvalidAmount, ErrInvalidInput, ErrForbidden,
		ErrDuplicatePhone, ErrInvalidCredentials, ErrUnavailable,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
