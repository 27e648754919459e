package models

import "errors"

// Типизированные ошибки хаба сообщений. Хаб и хранилище различают
// именно их, всё остальное считается внутренней ошибкой.
var (
	// ErrAuth означает, что учетные данные отсутствуют, недействительны или
	// указывают на несуществующего пользователя. Фатальна для
	// соединения: оно закрывается.
	ErrAuth = errors.New("authentication failed")

	// ErrNotAuthorized означает, что пользователь не является участником переписки.
	// Сообщается вызывающему, соединение остается открытым.
	ErrNotAuthorized = errors.New("not a participant of the conversation")

	// ErrNotFound означает, что операция ссылается на несуществующую сущность.
	ErrNotFound = errors.New("not found")

	// ErrValidation означает некорректные данные запроса (например, пустой
	// текст сообщения).
	ErrValidation = errors.New("invalid payload")

	// ErrPersistence означает, что хранилище недоступно или отклонило запись.
	// Операция не была выполнена: ничего не сохранено и не разослано.
	ErrPersistence = errors.New("persistence failure")
)
