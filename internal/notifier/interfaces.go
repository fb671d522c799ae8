package notifier

// INotifier delivers user-facing messages. From this core's perspective it is
// fire-and-forget: a delivery failure is reported but never corrupts state.
type INotifier interface {
	NotifyFromTemplate(to string, subject string, templateName string, data any) error
}
