package config

import "os"

const folderVar = "FOLDER"

type EnvVars struct{}

var _ EnvConfig = EnvVars{}

func (EnvVars) GetDataFolder() string {
	return GetEnv(folderVar, "./data")
}

func GetEnv(envVar, defaultValue string) string {
	value := os.Getenv(envVar)
	if value == "" {
		return defaultValue
	}
	return value
}
