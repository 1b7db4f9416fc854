package templates

import "shipment-notification-service/models"

// Built-in default-locale templates. Every channel gets a generic
// entry (registered under the "Custom" event code) so resolution never
// dead-ends for a known channel, plus richer entries for the common
// tracking milestones.
func (m *Manager) registerDefaults() {
	defaults := []Template{
		// email
		{
			Channel: models.ChannelEmail, EventCode: models.EventCustom, Locale: models.DefaultLocale,
			Subject: "Update for shipment {{.trackingNumber}}",
			Body: "<p>Hello,</p>" +
				"<p>There is news about your shipment <strong>{{.trackingNumber}}</strong>:</p>" +
				"<p>{{.eventDescription}}</p>" +
				"<p>Status: {{.currentStatus}} at {{.eventTime}}</p>" +
				"<p><a href=\"{{.unsubscribeUrl}}\">Unsubscribe</a></p>",
		},
		{
			Channel: models.ChannelEmail, EventCode: models.EventDelivered, Locale: models.DefaultLocale,
			Subject: "Your shipment {{.trackingNumber}} was delivered",
			Body: "<p>Good news!</p>" +
				"<p>Shipment <strong>{{.trackingNumber}}</strong> was delivered at {{.eventTime}}.</p>" +
				"<p>{{.eventDescription}}</p>" +
				"<p><a href=\"{{.unsubscribeUrl}}\">Unsubscribe</a></p>",
		},
		{
			Channel: models.ChannelEmail, EventCode: models.EventOutForDelivery, Locale: models.DefaultLocale,
			Subject: "Shipment {{.trackingNumber}} is out for delivery",
			Body: "<p>Shipment <strong>{{.trackingNumber}}</strong> is out for delivery.</p>" +
				"<p>Estimated arrival: {{.eta}}</p>" +
				"<p><a href=\"{{.unsubscribeUrl}}\">Unsubscribe</a></p>",
		},
		{
			Channel: models.ChannelEmail, EventCode: models.EventInTransit, Locale: models.DefaultLocale,
			Subject: "Shipment {{.trackingNumber}} is on its way",
			Body: "<p>Shipment <strong>{{.trackingNumber}}</strong> is in transit.</p>" +
				"<p>Last scan: {{.facility}} at {{.eventTime}}</p>" +
				"<p><a href=\"{{.unsubscribeUrl}}\">Unsubscribe</a></p>",
		},

		// sms
		{
			Channel: models.ChannelSMS, EventCode: models.EventCustom, Locale: models.DefaultLocale,
			Body: "Shipment {{.trackingNumber}}: {{.eventDescription}} ({{.currentStatus}})",
		},
		{
			Channel: models.ChannelSMS, EventCode: models.EventDelivered, Locale: models.DefaultLocale,
			Body: "Shipment {{.trackingNumber}} was delivered at {{.eventTime}}.",
		},
		{
			Channel: models.ChannelSMS, EventCode: models.EventOutForDelivery, Locale: models.DefaultLocale,
			Body: "Shipment {{.trackingNumber}} is out for delivery. ETA {{.eta}}.",
		},

		// chat
		{
			Channel: models.ChannelChat, EventCode: models.EventCustom, Locale: models.DefaultLocale,
			Body: "📦 {{.trackingNumber}}: {{.eventDescription}} ({{.currentStatus}})",
		},
		{
			Channel: models.ChannelChat, EventCode: models.EventDelivered, Locale: models.DefaultLocale,
			Body: "📦 Delivered! Shipment {{.trackingNumber}} arrived at {{.eventTime}}.",
		},

		// webhook: the body becomes the "message" field of the payload
		{
			Channel: models.ChannelWebhook, EventCode: models.EventCustom, Locale: models.DefaultLocale,
			Body: "{{.eventDescription}}",
		},
	}
	for _, t := range defaults {
		// Built-in bodies are static and parse; a failure here is a
		// programming error.
		if err := m.Register(t); err != nil {
			panic(err)
		}
	}
}
