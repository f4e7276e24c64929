package app

import "errors"

var (
	// ErrInvalidCredentials is returned when the supplied credentials do not match.
	// It is shown to end users and must not enable account enumeration.
	ErrInvalidCredentials = errors.New("Email o contraseña incorrectos")

	// ErrUserDisabled is returned when an account is disabled.
	// Handlers should NOT expose this to clients.
	ErrUserDisabled = errors.New("usuario desactivado")

	ErrUsernameRequired   = errors.New("el nombre de usuario es obligatorio")
	ErrInvalidUsername    = errors.New("el nombre de usuario debe tener entre 3 y 30 caracteres (letras, números, '.', '_' o '-')")
	ErrEmailRequired      = errors.New("el email es obligatorio")
	ErrPasswordRequired   = errors.New("la contraseña es obligatoria")
	ErrEmailAlreadyExists = errors.New("ya existe una cuenta con ese email")
	ErrUsernameTaken      = errors.New("ese nombre de usuario ya está en uso")
	ErrUserNotFound       = errors.New("usuario no encontrado")

	ErrRefreshTokenRequired = errors.New("refresh token requerido")
	ErrInvalidRefreshToken  = errors.New("refresh token inválido")

	ErrAboutTooLong       = errors.New("la descripción no puede superar los 500 caracteres")
	ErrTooManyGenres      = errors.New("puedes indicar como máximo 10 géneros favoritos")
	ErrStorageUnavailable = errors.New("el almacenamiento de archivos no está configurado")

	ErrISBNRequired      = errors.New("el ISBN es obligatorio")
	ErrTitleRequired     = errors.New("el título es obligatorio")
	ErrBookNotInLibrary  = errors.New("el libro no está en tu biblioteca")
	ErrInvalidTop3       = errors.New("el top 3 admite posiciones del 1 al 3 sin repetir libros")
	ErrTop3NotInLibrary  = errors.New("los libros del top 3 deben estar en tu biblioteca")
	ErrEventNotFound     = errors.New("evento no encontrado")
	ErrNotEventCreator   = errors.New("solo el creador puede borrar el evento")
	ErrInvalidEventDate  = errors.New("la fecha debe tener el formato AAAA-MM-DD")
	ErrInvalidEventTime  = errors.New("la hora debe tener el formato HH:MM")
	ErrEventFieldMissing = errors.New("título, fecha, hora, categoría y lugar son obligatorios")
	ErrAlreadySignedUp   = errors.New("ya estás apuntado a este evento")
	ErrNotSignedUp       = errors.New("no estás apuntado a este evento")

	ErrChannelNotFound   = errors.New("canal no encontrado")
	ErrNotChannelMember  = errors.New("no eres miembro de este canal")
	ErrNotChannelCreator = errors.New("solo el creador puede eliminar el canal")
	ErrMessageRequired   = errors.New("el mensaje no puede estar vacío")
	ErrMessageTooLong    = errors.New("el mensaje es demasiado largo")

	ErrCatalogUnavailable = errors.New("no se pudo conectar con Google Books")
	ErrNoRandomBook       = errors.New("no encontramos ningún libro, inténtalo de nuevo")
)
