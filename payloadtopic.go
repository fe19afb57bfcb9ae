package topicqueue

import (
	"reflect"
)

// TopicOfPayload creates a topic by using reflection on payload.
// The topic is the package import path of the type
// followed by a slash and the type name.
// Pointer types will be dereferenced.
func TopicOfPayload(payload any) string {
	return TopicOfPayloadType(reflect.TypeOf(payload))
}

// TopicOfPayloadType creates a topic for a given payload reflect.Type,
// see TopicOfPayload.
func TopicOfPayloadType(payloadType reflect.Type) string {
	for payloadType.Kind() == reflect.Ptr {
		payloadType = payloadType.Elem()
	}
	return payloadType.PkgPath() + "/" + payloadType.Name()
}
