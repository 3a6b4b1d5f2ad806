// Package utils contains small helpers shared by other packages, too
// minor on their own to deserve a dedicated package.
package utils

// ErrInErr is a wrapper func to not nest too deeply in an error being handled
// inside of an already error path. Not catching the error makes linters unhappy,
// but because it's already in an error path, there's not much to do.
func ErrInErr(_ error) {
}
