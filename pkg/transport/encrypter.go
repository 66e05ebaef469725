package transport

import (
	"context"

	"github.com/matrix-org/groupcall/pkg/signalling"
)

// EncryptedEnvelope is whatever an Encrypter hands back for transmission in
// place of the plaintext payload it was given.
type EncryptedEnvelope struct {
	Payload any
}

// Encrypter is the device-message encryption collaborator (spec §6):
// `encrypt(room_id, user_id, device_id, payload) -> EncryptedEnvelope`.
// Homeserver.SendToDevice calls this on every outbound to-device payload.
type Encrypter interface {
	Encrypt(ctx context.Context, roomID signalling.RoomID, userID signalling.UserID, deviceID signalling.DeviceID, payload any) (EncryptedEnvelope, error)
}

// PassthroughEncrypter implements Encrypter by forwarding the payload
// unencrypted. The teacher never implements Olm/Megolm device encryption
// either: an SFU focus is a trusted MSC3401 participant explicitly allowed
// to receive plaintext to-device signalling, and this module keeps that
// same posture (see DESIGN.md's Open Question resolution) rather than
// implementing real E2EE, which the spec places out of scope.
type PassthroughEncrypter struct{}

func (PassthroughEncrypter) Encrypt(ctx context.Context, roomID signalling.RoomID, userID signalling.UserID, deviceID signalling.DeviceID, payload any) (EncryptedEnvelope, error) {
	return EncryptedEnvelope{Payload: payload}, nil
}
