// Package attachment implements the encrypted media path: per-file AES-CTR
// key and IV generation on upload, ciphertext SHA-256 in the envelope, and
// hash-verified decryption on download. It also derives local filenames for
// received media under four policies with collision-free suffixing.
package attachment
