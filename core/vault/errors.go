package vault

import "errors"

// Local validation failures. They are detected before any backend call.
var (
	ErrBusy                = errors.New("ya hay una operación en curso sobre el baúl")
	ErrNoCart              = errors.New("no tienes un baúl activo")
	ErrNotActive           = errors.New("el baúl ya no está activo")
	ErrEmptyCart           = errors.New("agrega productos al baúl")
	ErrStockIssues         = errors.New("algunos productos no tienen stock suficiente")
	ErrNoBankSelected      = errors.New("debes seleccionar un banco para proceder con el pago")
	ErrExtendInFlight      = errors.New("ya se está extendiendo el tiempo del baúl")
	ErrInvalidExtension    = errors.New("la extensión debe indicar días u horas")
	ErrInvalidQuantity     = errors.New("la cantidad debe ser mayor o igual a cero")
	ErrItemNotFound        = errors.New("el producto no está en el baúl")
	ErrInvalidShipping     = errors.New("el costo de envío no puede ser negativo")
	ErrRemovalNotConfirmed = errors.New("confirma la eliminación del producto")
	ErrNoPendingRemoval    = errors.New("no hay una eliminación pendiente para este producto")
	ErrAlreadySubmitted    = errors.New("el pago ya fue enviado, recarga el baúl para intentarlo de nuevo")
	ErrMissingToken        = errors.New("el enlace de pago es inválido")
	ErrSessionClosed       = errors.New("la sesión del baúl se cerró, vuelve a abrirla")
	ErrVaultDisabled       = errors.New("el baúl de compras ya no está disponible para esta tienda. Contacta al vendedor directamente")
)

// UserError carries the message to show the buyer next to the cause.
type UserError struct {
	Message string
	Err     error
}

func (e *UserError) Error() string { return e.Message }

func (e *UserError) Unwrap() error { return e.Err }

// Message returns the text to show for err.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var ue *UserError
	if errors.As(err, &ue) {
		return ue.Message
	}
	return err.Error()
}
