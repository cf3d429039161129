// Package common holds helpers shared by the build services.
package common
