package domain

import "errors"

var (
	// ErrConfig indicates a missing or unusable configuration value.
	ErrConfig = errors.New("configuration error")

	// ErrArtifact indicates that the fetched source tree holds no
	// recognizable build file.
	ErrArtifact = errors.New("no build artifact")

	// ErrConnectivity indicates that the target host is unreachable.
	ErrConnectivity = errors.New("host unreachable")

	// ErrProvision indicates a failed provisioning command on the target.
	ErrProvision = errors.New("provisioning failed")

	// ErrDeploy indicates a failed build, start, or proxy step.
	ErrDeploy = errors.New("deployment failed")

	// ErrValidation indicates that the deployed service did not come up.
	ErrValidation = errors.New("deployment validation failed")
)
