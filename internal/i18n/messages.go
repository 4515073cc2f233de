package i18n

import (
	"fmt"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var catalog = map[language.Tag]map[string]string{
	language.English: {
		"nav.scripts":           "Scripts",
		"nav.licenses":          "Licenses",
		"nav.activity":          "Activity",
		"nav.payments":          "Payments",
		"nav.admin":             "Admin",
		"nav.login":             "Sign in",
		"nav.logout":            "Sign out",
		"scripts.heading":       "Browse scripts",
		"scripts.empty":         "No scripts available yet.",
		"scripts.buy":           "Buy for %s",
		"checkout.success":      "Payment received. Your license is ready.",
		"checkout.cancelled":    "Checkout cancelled.",
		"licenses.heading":      "Your licenses",
		"licenses.bind_ip":      "Bind IP",
		"licenses.ip_saved":     "IP updated.",
		"licenses.reset":        "Reset binding",
		"licenses.reset_done":   "License binding reset.",
		"activity.heading":      "Recent activity",
		"payments.heading":      "Payment history",
		"login.heading":         "Sign in to your account",
		"login.discord":         "Sign in with Discord",
		"login.failed":          "Sign in failed.",
		"session.expired":       "Your session expired. Please sign in again.",
		"admin.script_saved":    "Script saved.",
		"admin.script_deleted":  "Script deleted.",
		"admin.license_revoked": "License revoked.",
		"error.generic":         "Something went wrong. Please try again.",
	},
	language.German: {
		"nav.scripts":           "Skripte",
		"nav.licenses":          "Lizenzen",
		"nav.activity":          "Aktivität",
		"nav.payments":          "Zahlungen",
		"nav.admin":             "Verwaltung",
		"nav.login":             "Anmelden",
		"nav.logout":            "Abmelden",
		"scripts.heading":       "Skripte durchsuchen",
		"scripts.empty":         "Noch keine Skripte verfügbar.",
		"scripts.buy":           "Kaufen für %s",
		"checkout.success":      "Zahlung erhalten. Deine Lizenz ist bereit.",
		"checkout.cancelled":    "Bezahlung abgebrochen.",
		"licenses.heading":      "Deine Lizenzen",
		"licenses.bind_ip":      "IP binden",
		"licenses.ip_saved":     "IP aktualisiert.",
		"licenses.reset":        "Bindung zurücksetzen",
		"licenses.reset_done":   "Lizenzbindung zurückgesetzt.",
		"activity.heading":      "Letzte Aktivität",
		"payments.heading":      "Zahlungsverlauf",
		"login.heading":         "Melde dich an",
		"login.discord":         "Mit Discord anmelden",
		"login.failed":          "Anmeldung fehlgeschlagen.",
		"session.expired":       "Deine Sitzung ist abgelaufen. Bitte melde dich erneut an.",
		"admin.script_saved":    "Skript gespeichert.",
		"admin.script_deleted":  "Skript gelöscht.",
		"admin.license_revoked": "Lizenz widerrufen.",
		"error.generic":         "Etwas ist schiefgelaufen. Bitte versuche es erneut.",
	},
	language.Spanish: {
		"nav.scripts":           "Scripts",
		"nav.licenses":          "Licencias",
		"nav.activity":          "Actividad",
		"nav.payments":          "Pagos",
		"nav.admin":             "Administración",
		"nav.login":             "Iniciar sesión",
		"nav.logout":            "Cerrar sesión",
		"scripts.heading":       "Explorar scripts",
		"scripts.empty":         "Todavía no hay scripts.",
		"scripts.buy":           "Comprar por %s",
		"checkout.success":      "Pago recibido. Tu licencia está lista.",
		"checkout.cancelled":    "Pago cancelado.",
		"licenses.heading":      "Tus licencias",
		"licenses.bind_ip":      "Vincular IP",
		"licenses.ip_saved":     "IP actualizada.",
		"licenses.reset":        "Restablecer vínculo",
		"licenses.reset_done":   "Vínculo de licencia restablecido.",
		"activity.heading":      "Actividad reciente",
		"payments.heading":      "Historial de pagos",
		"login.heading":         "Inicia sesión en tu cuenta",
		"login.discord":         "Iniciar sesión con Discord",
		"login.failed":          "No se pudo iniciar sesión.",
		"session.expired":       "Tu sesión expiró. Inicia sesión de nuevo.",
		"admin.script_saved":    "Script guardado.",
		"admin.script_deleted":  "Script eliminado.",
		"admin.license_revoked": "Licencia revocada.",
		"error.generic":         "Algo salió mal. Inténtalo de nuevo.",
	},
}

func init() {
	if err := register(); err != nil {
		panic(err)
	}
}

func register() error {
	for tag, msgs := range catalog {
		for key, msg := range msgs {
			if err := message.SetString(tag, key, msg); err != nil {
				return fmt.Errorf("i18n: register %s %q: %w", tag, key, err)
			}
		}
	}
	return nil
}
