//go:build !cuda
// +build !cuda

package cwgan_go

import "fmt"

func cudaDevices() (int, error) {
	return 0, fmt.Errorf("binary is built without 'cuda' tag")
}
