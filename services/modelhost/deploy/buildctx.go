// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package deploy builds model serving images and tracks their deployments.
//
// A model is identified by a name-based UUID, so deploying the same model
// twice resolves to the same record, build context and port.
package deploy

import (
	"archive/zip"
	"bytes"
	"crypto/md5"
	"fmt"
	"math/big"
	"text/template"
	"time"

	"github.com/google/uuid"
)

// ModelID is the UUID v5 of name in the DNS namespace.
func ModelID(name string) string {
	return uuid.NewSHA1(uuid.NameSpaceDNS, []byte(name)).String()
}

// Port derives the serving port from the model id: md5(modelID) read as an
// unsigned big-endian integer, mod 65536.
func Port(modelID string) int {
	sum := md5.Sum([]byte(modelID))
	n := new(big.Int).SetBytes(sum[:])
	return int(n.Mod(n, big.NewInt(65536)).Int64())
}

// ObjectPath is where the build context of modelID is uploaded.
func ObjectPath(modelID string) string {
	return "models/" + modelID + ".zip"
}

const appTemplate = `from fastapi import FastAPI
from transformers import pipeline
from fastapi import File, UploadFile, HTTPException
from PIL import Image
import io

app = FastAPI()

pipe = pipeline("image-classification", model="{{.ModelName}}")


@app.get("/")
async def read_root():
    return {"message": "Image Classification API is running!"}


@app.post("/infer")
async def infer(file: UploadFile = File(...)):
    if file.content_type not in ["image/jpeg", "image/png", "image/jpg"]:
        raise HTTPException(status_code=400, detail="Invalid image format. Please upload a JPEG or PNG image.")

    try:
        image_bytes = await file.read()
        image = Image.open(io.BytesIO(image_bytes)).convert("RGB")
    except Exception:
        raise HTTPException(status_code=400, detail="Error processing the input image.")

    try:
        output = pipe(image)
        return {"predicted_label": output}
    except Exception:
        raise HTTPException(status_code=500, detail="Error during model inference.")
`

const requirements = `fastapi
uvicorn
transformers
pillow
python-multipart
torch
torchvision
`

const dockerfileTemplate = `FROM python:3.9-slim

WORKDIR /app

COPY requirements.txt .
RUN pip install --upgrade pip
RUN pip install --no-cache-dir -r requirements.txt

COPY app.py .

EXPOSE {{.Port}}

CMD ["uvicorn", "app:app", "--host", "0.0.0.0", "--port", "{{.Port}}"]
`

var (
	appTmpl        = template.Must(template.New("app.py").Parse(appTemplate))
	dockerfileTmpl = template.Must(template.New("Dockerfile").Parse(dockerfileTemplate))
)

type buildVars struct {
	ModelName string
	Port      int
}

// BuildContext renders the serving app for modelName and zips it with its
// requirements and Dockerfile.
//
// # Outputs
//
//   - []byte: Zip archive with app.py, requirements.txt and Dockerfile at
//     the root.
//   - error: Template or archive failure.
func BuildContext(modelName, modelID string) ([]byte, error) {
	vars := buildVars{ModelName: modelName, Port: Port(modelID)}

	var app, dockerfile bytes.Buffer
	if err := appTmpl.Execute(&app, vars); err != nil {
		return nil, fmt.Errorf("render app.py: %w", err)
	}
	if err := dockerfileTmpl.Execute(&dockerfile, vars); err != nil {
		return nil, fmt.Errorf("render Dockerfile: %w", err)
	}

	files := []struct {
		name string
		body []byte
	}{
		{"app.py", app.Bytes()},
		{"requirements.txt", []byte(requirements)},
		{"Dockerfile", dockerfile.Bytes()},
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	modified := time.Now().UTC()
	for _, f := range files {
		w, err := zw.CreateHeader(&zip.FileHeader{Name: f.name, Method: zip.Deflate, Modified: modified})
		if err != nil {
			return nil, fmt.Errorf("zip %s: %w", f.name, err)
		}
		if _, err := w.Write(f.body); err != nil {
			return nil, fmt.Errorf("zip %s: %w", f.name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("close zip: %w", err)
	}
	return buf.Bytes(), nil
}
