// Copyright (c) Tide Foundation Ltd.
// SPDX-License-Identifier: MPL-2.0

package enclave

// Role name layout the enclave authorizes against.  A multi-tag item
// requires the conjunction of all corresponding roles.
const (
	rolePrefix    = "_tide_"
	encryptSuffix = ".selfencrypt"
	decryptSuffix = ".selfdecrypt"
)

// EncryptRole returns the role required to encrypt data carrying the given
// tag.
func EncryptRole(tag string) string {
	return rolePrefix + tag + encryptSuffix
}

// DecryptRole returns the role required to decrypt data carrying the given
// tag.
func DecryptRole(tag string) string {
	return rolePrefix + tag + decryptSuffix
}

// RequiredEncryptRoles returns the conjunctive role set an item with the
// given tags requires for encryption.
func RequiredEncryptRoles(tags []string) []string {
	roles := make([]string, 0, len(tags))
	for _, tag := range tags {
		roles = append(roles, EncryptRole(tag))
	}
	return roles
}

// RequiredDecryptRoles returns the conjunctive role set an item with the
// given tags requires for decryption.
func RequiredDecryptRoles(tags []string) []string {
	roles := make([]string, 0, len(tags))
	for _, tag := range tags {
		roles = append(roles, DecryptRole(tag))
	}
	return roles
}
