package webmonitor

const indexHTML = `
<!DOCTYPE html>
<html>
<head>
    <title>Code Scanner Monitor</title>
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <style>
        body { margin: 0; font-family: system-ui, sans-serif; background: #16161a; color: #eee; }
        .app { max-width: 1200px; margin: 0 auto; padding: 16px; }
        .header { display: flex; justify-content: space-between; align-items: center; margin-bottom: 12px; }
        .title { font-size: 20px; font-weight: 600; }
        .badge { padding: 4px 10px; border-radius: 12px; font-size: 13px; background: #444; }
        .badge.scanning { background: #1b5e20; }
        .badge.paused { background: #8d6e00; }
        .badge.error { background: #b71c1c; }
        .grid { display: grid; grid-template-columns: 2fr 1fr; gap: 16px; }
        .panel { background: #202026; border-radius: 8px; padding: 12px; }
        .panel h2 { margin: 0 0 8px; font-size: 15px; }
        img#stream { width: 100%; height: auto; display: block; background: #000; }
        .controls { display: flex; flex-wrap: wrap; gap: 8px; margin-top: 10px; }
        .controls button { background: #333; color: #eee; border: 1px solid #555; border-radius: 4px; padding: 6px 12px; cursor: pointer; }
        .controls button:hover { background: #444; }
        .hidden { display: none !important; }
        ul { list-style: none; margin: 0; padding: 0; }
        li { padding: 6px 0; border-bottom: 1px solid #333; font-size: 13px; word-break: break-all; }
        .fmt { color: #00e64c; font-size: 11px; margin-right: 6px; }
        .error { color: #ef5350; font-size: 13px; min-height: 1em; }
        dl { display: grid; grid-template-columns: auto 1fr; gap: 4px 10px; margin: 0; font-size: 13px; }
        dt { color: #999; }
    </style>
</head>
<body>
    <div class="app">
        <div class="header">
            <div class="title">Code Scanner Monitor</div>
            <span class="badge" id="status-badge">connecting...</span>
        </div>

        <div class="grid">
            <div class="panel">
                <h2>Live Preview</h2>
                <img id="stream" src="/stream" alt="Live camera preview">
                <div class="controls">
                    <span id="onoff-controls" class="hidden">
                        <button data-op="start">Start</button>
                        <button data-op="pause">Pause</button>
                        <button data-op="resume">Resume</button>
                        <button data-op="stop">Stop</button>
                    </span>
                    <button id="torch" class="hidden">Torch</button>
                    <label id="zoom-control" class="hidden">Zoom
                        <input id="zoom" type="range" min="1" max="4" step="0.1" value="1">
                    </label>
                </div>
                <p class="error" id="error"></p>
            </div>

            <div>
                <div class="panel">
                    <h2>Scans</h2>
                    <ul id="history"><li>No codes yet</li></ul>
                </div>
                <div class="panel" style="margin-top:16px;">
                    <h2>Camera</h2>
                    <dl id="camera"></dl>
                    <h2 style="margin-top:12px;">Devices</h2>
                    <ul id="devices"></ul>
                </div>
            </div>
        </div>
    </div>

    <script>
    (function () {
        const badge = document.getElementById('status-badge');
        const errorEl = document.getElementById('error');
        let torchOn = false;
        let lastVersion = 0;

        function post(path, body) {
            return fetch(path, {
                method: 'POST',
                headers: {'Content-Type': 'application/json'},
                body: body ? JSON.stringify(body) : null,
            }).then(r => r.json().then(data => {
                errorEl.textContent = r.ok ? '' : (data.code + ': ' + data.message);
                return data;
            }));
        }

        document.querySelectorAll('[data-op]').forEach(btn => {
            btn.addEventListener('click', () => post('/api/scanner/' + btn.dataset.op));
        });
        document.getElementById('torch').addEventListener('click', () => {
            post('/api/torch', {enabled: !torchOn});
        });
        document.getElementById('zoom').addEventListener('change', e => {
            post('/api/zoom', {level: parseFloat(e.target.value)});
        });

        function beep() {
            try {
                const ctx = new AudioContext();
                const osc = ctx.createOscillator();
                osc.frequency.value = 880;
                osc.connect(ctx.destination);
                osc.start();
                osc.stop(ctx.currentTime + 0.08);
            } catch (e) {}
        }

        function render(s) {
            badge.textContent = s.status;
            badge.className = 'badge ' + s.status;
            document.getElementById('onoff-controls').classList.toggle('hidden', !s.components.on_off);
            document.getElementById('torch').classList.toggle('hidden', !s.components.torch);
            document.getElementById('zoom-control').classList.toggle('hidden', !s.components.zoom);
            errorEl.textContent = s.last_error ? (s.last_error.code + ': ' + s.last_error.message) : '';

            const cam = document.getElementById('camera');
            cam.innerHTML = '';
            if (s.camera) {
                torchOn = s.camera.torch;
                const rows = [
                    ['Device', s.camera.device.label || s.camera.device.device_id],
                    ['Session', s.camera.session_id],
                    ['State', s.camera.state],
                    ['Torch', s.camera.torch_supported ? (s.camera.torch ? 'on' : 'off') : 'n/a'],
                    ['Zoom', s.camera.zoom_max ? s.camera.zoom.toFixed(1) + 'x' : 'n/a'],
                    ['Preview', s.monitor.frame_width + 'x' + s.monitor.frame_height + ' @ ' + s.monitor.current_fps.toFixed(1) + ' fps'],
                    ['Decode', s.metrics.decode_latency_ms + ' ms'],
                ];
                rows.forEach(([k, v]) => {
                    const dt = document.createElement('dt'); dt.textContent = k;
                    const dd = document.createElement('dd'); dd.textContent = v; dd.style.margin = 0;
                    cam.append(dt, dd);
                });
            }

            const list = document.getElementById('history');
            if (s.scan_history.length) {
                list.innerHTML = '';
                s.scan_history.forEach(res => res.detections.forEach(d => {
                    const li = document.createElement('li');
                    const fmt = document.createElement('span');
                    fmt.className = 'fmt';
                    fmt.textContent = d.format;
                    li.append(fmt, document.createTextNode(
                        '#' + res.version + ' at ' + d.bbox.x + ',' + d.bbox.y + ' (' + d.bbox.w + 'x' + d.bbox.h + ')'));
                    list.append(li);
                }));
            }
            if (s.latest_scan && s.latest_scan.version !== lastVersion) {
                if (lastVersion !== 0 && s.components.audio) beep();
                lastVersion = s.latest_scan.version;
            }
        }

        new EventSource('/api/status/stream').onmessage = e => render(JSON.parse(e.data));

        new EventSource('/api/devices/stream').onmessage = e => {
            const data = JSON.parse(e.data);
            const list = document.getElementById('devices');
            list.innerHTML = '';
            data.devices.forEach(d => {
                const li = document.createElement('li');
                li.textContent = (d.label || d.device_id) + (d.facing ? ' (' + d.facing + ')' : '');
                list.append(li);
            });
        };
    })();
    </script>
</body>
</html>
`
