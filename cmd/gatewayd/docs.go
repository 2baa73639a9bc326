package main

// General API documentation for swaggo. Run `make swagger-gen` to generate docs.
//
// @title           gatewayd API
// @version         1.0
// @description     HTTP API for routing completion requests across a fleet of backend inference instances.
//
// @contact.name   gatewayd maintainers
// @contact.url    https://github.com/your-org/gatewayd
//
// @license.name   MIT
// @license.url    https://opensource.org/licenses/MIT
//
// @BasePath  /
//
// @schemes http
