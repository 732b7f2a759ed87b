// Copyright (c) 2024 Company 0, LLC.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wire

// The Gaia route itself is an intentionally unimplemented documented gap
// (§9 open question (a)): the long-poll engine ignores BugleRouteGaiaEvent
// entirely. These message shapes exist solely so the pblite binary-override
// table (§4.1) has a concrete, testable target for every listed entry.

// SignInGaiaInner is field 1 of SignInGaiaRequest; its field 36 is always
// opaque binary.
type SignInGaiaInner struct {
	DeviceID string `pblite:"36"`
}

func (*SignInGaiaInner) PbliteName() string { return "authentication.SignInGaiaRequest.Inner" }

type SignInGaiaRequest struct {
	Inner *SignInGaiaInner `pblite:"1"`
}

func (*SignInGaiaRequest) PbliteName() string { return "authentication.SignInGaiaRequest" }

// SignInGaiaResponse's field 2 is always opaque binary.
type SignInGaiaResponse struct {
	Token []byte `pblite:"1"`
	Blob  string `pblite:"2"`
}

func (*SignInGaiaResponse) PbliteName() string { return "authentication.SignInGaiaResponse" }

type GaiaItem2Item1 struct {
	Data string `pblite:"1"`
}

func (*GaiaItem2Item1) PbliteName() string {
	return "authentication.RPCGaiaData.UnknownContainer.Item2.Item1"
}

type GaiaItem2 struct {
	Item1 *GaiaItem2Item1 `pblite:"1"`
}

func (*GaiaItem2) PbliteName() string { return "authentication.RPCGaiaData.UnknownContainer.Item2" }

// GaiaItem4 has two overridden fields, 1 and 8.
type GaiaItem4 struct {
	Data1 string `pblite:"1"`
	Data8 string `pblite:"8"`
}

func (*GaiaItem4) PbliteName() string { return "authentication.RPCGaiaData.UnknownContainer.Item4" }

type GaiaUnknownContainer struct {
	Item2 *GaiaItem2 `pblite:"2"`
	Item4 *GaiaItem4 `pblite:"4"`
}

func (*GaiaUnknownContainer) PbliteName() string {
	return "authentication.RPCGaiaData.UnknownContainer"
}

type RPCGaiaData struct {
	Container *GaiaUnknownContainer `pblite:"1"`
}

func (*RPCGaiaData) PbliteName() string { return "authentication.RPCGaiaData" }
