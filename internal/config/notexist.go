package config

import "os"

func isNotExist(err error) bool {
	return os.IsNotExist(err)
}
